package adapter

import (
	"strings"

	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/pkg/types"
)

// TransformMessages converts request messages to OpenAI-shaped messages.
//
// In compat mode the last user message is moved to the end, as the legacy
// message convention expects. When supportSystem is false system messages
// are removed and their text, joined by sep, is prefixed to the first
// remaining message.
func TransformMessages(messages []types.ModelMessage, compat, supportSystem bool, sep string) ([]engine.ChatMessage, error) {
	out := make([]engine.ChatMessage, 0, len(messages))
	for _, m := range messages {
		role, err := types.NormalizeRole(m.Role)
		if err != nil {
			return nil, errdefs.Protocolf("%v", err)
		}
		out = append(out, engine.ChatMessage{Role: chatRole(role), Content: m.Content.String()})
	}
	if compat {
		last := -1
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Role == engine.RoleUser {
				last = i
				break
			}
		}
		if last >= 0 && last != len(out)-1 {
			msg := out[last]
			out = append(out[:last], out[last+1:]...)
			out = append(out, msg)
		}
	}
	if supportSystem {
		return out, nil
	}
	var systems []string
	rest := out[:0:0]
	for _, m := range out {
		if m.Role == engine.RoleSystem {
			systems = append(systems, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	if len(systems) == 0 {
		return rest, nil
	}
	sys := strings.Join(systems, sep)
	if len(rest) == 0 {
		return []engine.ChatMessage{{Role: engine.RoleUser, Content: sys}}, nil
	}
	rest[0].Content = sys + sep + rest[0].Content
	return rest, nil
}

func chatRole(role string) string {
	switch role {
	case types.RoleSystem:
		return engine.RoleSystem
	case types.RoleHuman:
		return engine.RoleUser
	case types.RoleAI:
		return engine.RoleAssistant
	default:
		return engine.RoleTool
	}
}

// CountSystem returns how many system messages msgs holds.
func CountSystem(msgs []engine.ChatMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role == engine.RoleSystem {
			n++
		}
	}
	return n
}
