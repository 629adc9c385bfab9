package conversation

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"modelcore/internal/errdefs"
	"modelcore/pkg/types"
)

func msgs(pairs ...string) []types.ModelMessage {
	var out []types.ModelMessage
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, types.NewMessage(pairs[i], pairs[i+1]))
	}
	return out
}

func TestGetReturnsCopy(t *testing.T) {
	f := NewFactory()
	a, ok := f.Get("vicuna_v1.1", PromptTypeFSChat)
	if !ok {
		t.Fatalf("vicuna template missing")
	}
	a.SetSystemMessage("changed")
	a.AppendMessage("USER", "hi")
	b, _ := f.Get("vicuna_v1.1", PromptTypeFSChat)
	if b.SystemMessage() == "changed" || strings.Contains(b.GetPrompt(), "hi") {
		t.Fatalf("shared template was mutated")
	}
}

func TestVicunaPrompt(t *testing.T) {
	f := NewFactory()
	tpl, _ := f.Get("vicuna_v1.1", "")
	conv, err := Build(tpl, msgs("human", "Hello", "ai", "Hi!", "human", "How are you?"), false, true, "\n")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := vicunaSystem + " USER: Hello ASSISTANT: Hi!</s>USER: How are you? ASSISTANT:"
	if got := conv.GetPrompt(); got != want {
		t.Fatalf("prompt mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestChatMLPromptWithSystem(t *testing.T) {
	f := NewFactory()
	tpl, _ := f.Get("qwen-7b-chat", PromptTypeFSChat)
	conv, err := Build(tpl, msgs("system", "Be brief.", "user", "2+2?"), false, true, "\n")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "<|im_start|>system\nBe brief.<|im_end|>\n<|im_start|>user\n2+2?<|im_end|>\n<|im_start|>assistant\n"
	if got := conv.GetPrompt(); got != want {
		t.Fatalf("prompt mismatch:\n got %q\nwant %q", got, want)
	}
	if diff := cmp.Diff([]int{151643, 151644, 151645}, conv.StopTokenIDs()); diff != "" {
		t.Fatalf("stop ids (-want +got):\n%s", diff)
	}
}

func TestMistralFoldsSystemIntoUser(t *testing.T) {
	f := NewFactory()
	tpl, _ := f.Get("mistral", PromptTypeFSChat)
	conv, err := Build(tpl, msgs("system", "S", "human", "H"), true, false, "\n")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := conv.GetPrompt()
	if got != "[INST] S\nH [/INST]" {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestStrictRejectsSeveralSystemMessages(t *testing.T) {
	f := NewFactory()
	tpl, _ := f.Get("chatml", PromptTypeFSChat)
	_, err := Build(tpl, msgs("system", "a", "system", "b", "human", "q"), false, true, "\n")
	if !errdefs.IsProtocol(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestCompatLastSystemDisplacesLastUser(t *testing.T) {
	f := NewFactory()
	tpl, _ := f.Get("chatml", PromptTypeFSChat)
	conv, err := Build(tpl, msgs("system", "rules", "human", "raw question", "system", "expanded question"), true, true, "\n")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := conv.GetPrompt()
	if strings.Contains(got, "raw question") || !strings.Contains(got, "user\nexpanded question") {
		t.Fatalf("last system should replace last user: %q", got)
	}
	if !strings.HasPrefix(got, "<|im_start|>system\nrules") {
		t.Fatalf("remaining system messages should become system prompt: %q", got)
	}
}

func TestLlama3Prompt(t *testing.T) {
	f := NewFactory()
	tpl, _ := f.Get("llama-3", PromptTypeFSChat)
	conv, _ := Build(tpl, msgs("human", " hi "), false, true, "\n")
	want := "<|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\nhi<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n"
	if got := conv.GetPrompt(); got != want {
		t.Fatalf("prompt mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestUnknownRoleIsProtocolError(t *testing.T) {
	f := NewFactory()
	tpl, _ := f.Get("raw", PromptTypeFSChat)
	if _, err := Build(tpl, msgs("narrator", "x"), true, true, "\n"); !errdefs.IsProtocol(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestRegisterAndLegacySet(t *testing.T) {
	f := NewFactory()
	if _, ok := f.Get("zero_shot", PromptTypeFSChat); ok {
		t.Fatalf("zero_shot belongs to the legacy set")
	}
	a, ok := f.Get("zero_shot", "")
	if !ok || a.PromptType() != PromptTypeDBGPT {
		t.Fatalf("legacy lookup failed")
	}
	c := &Conversation{Name: "custom", Roles: [2]string{"Q", "A"}, Style: AddColonSingle, Sep: "\n"}
	if err := f.Register(PromptTypeFSChat, c, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.Register(PromptTypeFSChat, c, false); !errdefs.IsConfig(err) {
		t.Fatalf("duplicate register should fail, got %v", err)
	}
	a, _ = f.Get("custom", PromptTypeFSChat)
	a.AppendMessage("Q", "x")
	a.AppendOpen("A")
	if got := a.GetPrompt(); got != "\nQ: x\nA:" {
		t.Fatalf("custom prompt %q", got)
	}
	a.UpdateLastMessage("y")
	if got := a.GetPrompt(); got != "\nQ: x\nA: y\n" {
		t.Fatalf("after update %q", got)
	}
}
