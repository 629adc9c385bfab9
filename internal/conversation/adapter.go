package conversation

import (
	"sort"
	"strings"
	"sync"

	"modelcore/internal/errdefs"
	"modelcore/pkg/types"
)

// PromptType identifies which template set an Adapter came from.
type PromptType string

const (
	PromptTypeFSChat PromptType = "fschat"
	PromptTypeDBGPT  PromptType = "dbgpt"
)

// Adapter is the mutable prompt assembler handed to model adapters.
type Adapter interface {
	PromptType() PromptType
	Name() string
	Roles() [2]string
	Sep() string
	StopStr() []string
	StopTokenIDs() []int
	SystemMessage() string
	SetSystemMessage(s string)
	AppendMessage(role, content string)
	// AppendOpen appends the empty generation slot for role.
	AppendOpen(role string)
	UpdateLastMessage(s string)
	GetPrompt() string
	Copy() Adapter
}

type convAdapter struct {
	pt   PromptType
	conv *Conversation
}

// Wrap exposes a Conversation as an Adapter of the given prompt type.
func Wrap(pt PromptType, c *Conversation) Adapter {
	return &convAdapter{pt: pt, conv: c}
}

func (a *convAdapter) PromptType() PromptType { return a.pt }
func (a *convAdapter) Name() string           { return a.conv.Name }
func (a *convAdapter) Roles() [2]string       { return a.conv.Roles }
func (a *convAdapter) Sep() string            { return a.conv.Sep }
func (a *convAdapter) StopStr() []string      { return a.conv.StopStr }
func (a *convAdapter) StopTokenIDs() []int    { return a.conv.StopTokenIDs }
func (a *convAdapter) SystemMessage() string  { return a.conv.SystemMessage }
func (a *convAdapter) GetPrompt() string      { return a.conv.Prompt() }

func (a *convAdapter) SetSystemMessage(s string) { a.conv.SystemMessage = s }

func (a *convAdapter) AppendMessage(role, content string) {
	a.conv.Turns = append(a.conv.Turns, Turn{Role: role, Content: content})
}

func (a *convAdapter) AppendOpen(role string) {
	a.conv.Turns = append(a.conv.Turns, Turn{Role: role, Open: true})
}

func (a *convAdapter) UpdateLastMessage(s string) {
	if n := len(a.conv.Turns); n > 0 {
		a.conv.Turns[n-1].Content = s
		a.conv.Turns[n-1].Open = false
	}
}

func (a *convAdapter) Copy() Adapter {
	return &convAdapter{pt: a.pt, conv: a.conv.Clone()}
}

// Factory owns the named templates. Get always returns a copy so callers
// never mutate the shared default.
type Factory struct {
	mu        sync.RWMutex
	templates map[PromptType]map[string]*Conversation
}

// NewFactory returns a factory preloaded with the builtin template sets.
func NewFactory() *Factory {
	f := &Factory{templates: map[PromptType]map[string]*Conversation{
		PromptTypeFSChat: {},
		PromptTypeDBGPT:  {},
	}}
	for _, c := range fschatTemplates() {
		f.templates[PromptTypeFSChat][c.Name] = c
	}
	for _, c := range legacyTemplates() {
		f.templates[PromptTypeDBGPT][c.Name] = c
	}
	return f
}

// Register adds a template. An existing name is an error unless override.
func (f *Factory) Register(pt PromptType, c *Conversation, override bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.templates[pt]
	if !ok {
		return errdefs.Configf("unknown prompt type %q", pt)
	}
	if _, exists := set[c.Name]; exists && !override {
		return errdefs.Configf("conversation template %q already registered", c.Name)
	}
	set[c.Name] = c.Clone()
	return nil
}

// Get returns a copy of the named template. An empty prompt type searches
// the fschat set first, then the legacy set.
func (f *Factory) Get(name string, pt PromptType) (Adapter, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	order := []PromptType{pt}
	if pt == "" {
		order = []PromptType{PromptTypeFSChat, PromptTypeDBGPT}
	}
	for _, p := range order {
		if c, ok := f.templates[p][name]; ok {
			return Wrap(p, c.Clone()), true
		}
	}
	return nil, false
}

// Names lists templates of a prompt type, sorted.
func (f *Factory) Names(pt PromptType) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.templates[pt]))
	for n := range f.templates[pt] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build renders messages into a copy of tpl and appends the generation
// slot. In strict mode more than one system message is a protocol error.
// In compat mode the legacy rule applies: with several system messages the
// last one replaces the final user message and the rest become the system
// message. When the template has no system support the system text is
// prefixed to the final user message with sep.
func Build(tpl Adapter, messages []types.ModelMessage, compat, supportSystem bool, sep string) (Adapter, error) {
	conv := tpl.Copy()
	var systems []string
	type turn struct {
		human   bool
		content string
	}
	var turns []turn
	for _, m := range messages {
		role, err := types.NormalizeRole(m.Role)
		if err != nil {
			return nil, errdefs.Protocolf("%v", err)
		}
		switch role {
		case types.RoleSystem:
			systems = append(systems, m.Content.String())
		case types.RoleHuman:
			turns = append(turns, turn{human: true, content: m.Content.String()})
		case types.RoleAI:
			turns = append(turns, turn{content: m.Content.String()})
		}
	}
	lastHuman := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].human {
			lastHuman = i
			break
		}
	}
	if compat {
		if len(systems) > 1 && lastHuman >= 0 {
			turns[lastHuman].content = systems[len(systems)-1]
			systems = systems[:len(systems)-1]
		}
	} else if len(systems) > 1 {
		return nil, errdefs.Protocolf("conversation template %s only supports single system message", conv.Name())
	}
	sys := strings.Join(systems, "")
	if sys != "" {
		if supportSystem {
			conv.SetSystemMessage(sys)
		} else if lastHuman >= 0 {
			turns[lastHuman].content = sys + sep + turns[lastHuman].content
		} else {
			turns = append(turns, turn{human: true, content: sys})
		}
	}
	roles := conv.Roles()
	for _, t := range turns {
		if t.human {
			conv.AppendMessage(roles[0], t.content)
		} else {
			conv.AppendMessage(roles[1], t.content)
		}
	}
	conv.AppendOpen(roles[1])
	return conv, nil
}
