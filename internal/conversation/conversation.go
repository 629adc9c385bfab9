// Package conversation renders message lists into single prompt strings
// using per-model templates (roles, separators, stop signals).
package conversation

import (
	"strings"
)

// SeparatorStyle selects how turns are joined.
type SeparatorStyle int

const (
	AddColonSingle SeparatorStyle = iota
	AddColonTwo
	NoColonSingle
	AddNewLineSingle
	Llama2
	ChatML
	Llama3
	Gemma
	DeepSeekChat
	FalconChat
	Phi3
)

// Turn is one rendered message. Open marks the empty generation slot.
type Turn struct {
	Role    string
	Content string
	Open    bool
}

// Conversation is a template plus the turns appended to it.
type Conversation struct {
	Name string
	// SystemTemplate contains {system_message}.
	SystemTemplate string
	SystemMessage  string
	Roles          [2]string
	Turns          []Turn
	Style          SeparatorStyle
	Sep            string
	Sep2           string
	StopStr        []string
	StopTokenIDs   []int
}

const systemPlaceholder = "{system_message}"

func (c *Conversation) systemPrompt() string {
	tpl := c.SystemTemplate
	if tpl == "" {
		tpl = systemPlaceholder
	}
	return strings.ReplaceAll(tpl, systemPlaceholder, c.SystemMessage)
}

// Prompt renders the conversation.
func (c *Conversation) Prompt() string {
	sys := c.systemPrompt()
	var b strings.Builder
	switch c.Style {
	case AddColonSingle:
		b.WriteString(sys + c.Sep)
		for _, t := range c.Turns {
			if t.Open {
				b.WriteString(t.Role + ":")
				continue
			}
			b.WriteString(t.Role + ": " + t.Content + c.Sep)
		}
	case AddColonTwo, DeepSeekChat:
		seps := [2]string{c.Sep, c.Sep2}
		if c.Style == AddColonTwo || sys != "" {
			b.WriteString(sys + seps[0])
		}
		for i, t := range c.Turns {
			if t.Open {
				b.WriteString(t.Role + ":")
				continue
			}
			b.WriteString(t.Role + ": " + t.Content + seps[i%2])
		}
	case NoColonSingle:
		b.WriteString(sys)
		for _, t := range c.Turns {
			if t.Open {
				b.WriteString(t.Role)
				continue
			}
			b.WriteString(t.Role + t.Content + c.Sep)
		}
	case AddNewLineSingle:
		if sys != "" {
			b.WriteString(sys + c.Sep)
		}
		for _, t := range c.Turns {
			if t.Open {
				b.WriteString(t.Role + "\n")
				continue
			}
			b.WriteString(t.Role + "\n" + t.Content + c.Sep)
		}
	case FalconChat:
		if sys != "" {
			b.WriteString(sys + c.Sep)
		}
		for _, t := range c.Turns {
			if t.Open {
				b.WriteString(t.Role + ":")
				continue
			}
			b.WriteString(t.Role + ": " + t.Content + c.Sep)
		}
	case Llama2:
		seps := [2]string{c.Sep, c.Sep2}
		if c.SystemMessage != "" {
			b.WriteString(sys)
		} else {
			b.WriteString("[INST] ")
		}
		for i, t := range c.Turns {
			tag := c.Roles[i%2]
			if t.Open {
				b.WriteString(tag)
				continue
			}
			if i == 0 {
				b.WriteString(t.Content + " ")
			} else {
				b.WriteString(tag + " " + t.Content + seps[i%2])
			}
		}
	case ChatML:
		if sys != "" {
			b.WriteString(sys + c.Sep + "\n")
		}
		for _, t := range c.Turns {
			if t.Open {
				b.WriteString(t.Role + "\n")
				continue
			}
			b.WriteString(t.Role + "\n" + t.Content + c.Sep + "\n")
		}
	case Llama3:
		b.WriteString("<|begin_of_text|>")
		if c.SystemMessage != "" {
			b.WriteString(sys)
		}
		for _, t := range c.Turns {
			b.WriteString("<|start_header_id|>" + t.Role + "<|end_header_id|>\n\n")
			if !t.Open {
				b.WriteString(strings.TrimSpace(t.Content) + "<|eot_id|>")
			}
		}
	case Gemma:
		b.WriteString(sys)
		for _, t := range c.Turns {
			b.WriteString("<start_of_turn>" + t.Role + "\n")
			if !t.Open {
				b.WriteString(t.Content + c.Sep)
			}
		}
	case Phi3:
		if c.SystemMessage != "" {
			b.WriteString(sys + c.Sep + "\n")
		}
		for _, t := range c.Turns {
			if t.Open {
				b.WriteString(t.Role + "\n")
				continue
			}
			b.WriteString(t.Role + "\n" + t.Content + c.Sep + "\n")
		}
	}
	return b.String()
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Turns = append([]Turn(nil), c.Turns...)
	cp.StopStr = append([]string(nil), c.StopStr...)
	cp.StopTokenIDs = append([]int(nil), c.StopTokenIDs...)
	return &cp
}
