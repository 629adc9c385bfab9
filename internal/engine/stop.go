package engine

import (
	"strings"
)

// TruncateAtStop cuts text at the earliest occurrence of any stop word.
// It reports whether a stop word was found.
func TruncateAtStop(text string, stops []string) (string, bool) {
	cut := -1
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return text, false
	}
	return text[:cut], true
}

// HoldStopPrefix trims a tail of text that could still grow into a stop
// word, so that streamed text never shows a partial stop word.
func HoldStopPrefix(text string, stops []string) string {
	hold := 0
	for _, s := range stops {
		for n := len(s) - 1; n > hold; n-- {
			if strings.HasSuffix(text, s[:n]) {
				hold = n
				break
			}
		}
	}
	return text[:len(text)-hold]
}

// UnionStrings merges lists keeping first-seen order and dropping empties
// and duplicates. Request values go first.
func UnionStrings(lists ...[]string) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range lists {
		for _, s := range l {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// UnionInts merges id lists keeping first-seen order, dropping negatives
// and duplicates.
func UnionInts(lists ...[]int) []int {
	var out []int
	seen := map[int]bool{}
	for _, l := range lists {
		for _, v := range l {
			if v < 0 || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// ContainsInt reports whether v is in ids.
func ContainsInt(ids []int, v int) bool {
	for _, id := range ids {
		if id == v {
			return true
		}
	}
	return false
}
