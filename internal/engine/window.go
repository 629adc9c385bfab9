package engine

// Window fits a prompt of promptTokens into a context window of contextLen
// tokens next to the completion. It returns how many trailing prompt tokens
// to keep and the completion budget. One slot stays free, so keep plus
// newTokens is below contextLen. A completion budget that is unset or does
// not leave room for any prompt is reduced to what the prompt leaves over.
// contextLen <= 0 disables the check.
func Window(promptTokens, contextLen, maxNewTokens int) (keep, newTokens int) {
	if contextLen <= 0 {
		return promptTokens, maxNewTokens
	}
	newTokens = maxNewTokens
	if newTokens <= 0 || newTokens >= contextLen-1 {
		newTokens = max(contextLen-promptTokens-1, 1)
	}
	keep = min(promptTokens, max(contextLen-newTokens-1, 0))
	return keep, newTokens
}

// Room is the completion budget left next to a prompt that cannot be
// truncated. It never drops below one token.
func Room(promptTokens, contextLen, maxNewTokens int) int {
	if contextLen <= 0 {
		return maxNewTokens
	}
	room := max(contextLen-promptTokens-1, 1)
	if maxNewTokens <= 0 {
		return room
	}
	return min(maxNewTokens, room)
}

// KeepTail returns the last n tokens of toks.
func KeepTail(toks []int, n int) []int {
	if n >= len(toks) {
		return toks
	}
	return toks[len(toks)-max(n, 0):]
}
