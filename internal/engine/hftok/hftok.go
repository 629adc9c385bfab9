// Package hftok reads tokenizer metadata from a HuggingFace model
// directory: special tokens, EOS/PAD ids and token-to-id lookup. Chat
// template rendering is delegated to the engine serving the model.
package hftok

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
)

// Renderer applies a chat template remotely.
type Renderer func(ctx context.Context, messages []engine.ChatMessage) (string, error)

// Tokenizer implements engine.Tokenizer from model-directory files.
type Tokenizer struct {
	vocab        map[string]int
	eosToken     string
	bosToken     string
	padToken     string
	eosID        int
	padID        int
	chatTemplate string
	fromFiles    bool
	render       Renderer
}

// ModelConfig is the subset of config.json the loaders use.
type ModelConfig struct {
	ModelType             string   `json:"model_type"`
	Architectures         []string `json:"architectures"`
	MaxPositionEmbeddings int      `json:"max_position_embeddings"`
	TorchDType            string   `json:"torch_dtype"`
}

// New builds a tokenizer from explicit values, mainly for tests and for
// engines that report their own vocabulary.
func New(vocab map[string]int, eos string, render Renderer) *Tokenizer {
	t := &Tokenizer{vocab: vocab, eosToken: eos, eosID: -1, padID: -1, render: render}
	if id, ok := vocab[eos]; ok {
		t.eosID = id
	}
	return t
}

// Load reads tokenizer_config.json, tokenizer.json and
// generation_config.json from dir. Missing files are tolerated; a
// directory with none of them is an error.
func Load(dir string, render Renderer) (*Tokenizer, error) {
	t := &Tokenizer{vocab: map[string]int{}, eosID: -1, padID: -1, render: render, fromFiles: true}
	found := false

	var tj struct {
		AddedTokens []struct {
			ID      int    `json:"id"`
			Content string `json:"content"`
		} `json:"added_tokens"`
		Model struct {
			Vocab json.RawMessage `json:"vocab"`
		} `json:"model"`
	}
	if ok, err := readJSON(filepath.Join(dir, "tokenizer.json"), &tj); err != nil {
		return nil, err
	} else if ok {
		found = true
		var vocab map[string]int
		if len(tj.Model.Vocab) > 0 && json.Unmarshal(tj.Model.Vocab, &vocab) == nil {
			for k, v := range vocab {
				t.vocab[k] = v
			}
		}
		for _, a := range tj.AddedTokens {
			t.vocab[a.Content] = a.ID
		}
	}

	var tc struct {
		EOSToken           specialToken          `json:"eos_token"`
		BOSToken           specialToken          `json:"bos_token"`
		PadToken           specialToken          `json:"pad_token"`
		ChatTemplate       json.RawMessage       `json:"chat_template"`
		AddedTokensDecoder map[string]addedToken `json:"added_tokens_decoder"`
	}
	if ok, err := readJSON(filepath.Join(dir, "tokenizer_config.json"), &tc); err != nil {
		return nil, err
	} else if ok {
		found = true
		t.eosToken, t.bosToken, t.padToken = string(tc.EOSToken), string(tc.BOSToken), string(tc.PadToken)
		for idStr, tok := range tc.AddedTokensDecoder {
			if id, err := strconv.Atoi(idStr); err == nil {
				t.vocab[tok.Content] = id
			}
		}
		var s string
		if json.Unmarshal(tc.ChatTemplate, &s) == nil {
			t.chatTemplate = s
		}
	}

	var gc struct {
		EOSTokenID json.RawMessage `json:"eos_token_id"`
		PadTokenID *int            `json:"pad_token_id"`
	}
	if ok, err := readJSON(filepath.Join(dir, "generation_config.json"), &gc); err != nil {
		return nil, err
	} else if ok {
		found = true
		if ids := intOrList(gc.EOSTokenID); len(ids) > 0 {
			t.eosID = ids[0]
		}
		if gc.PadTokenID != nil {
			t.padID = *gc.PadTokenID
		}
	}
	if !found {
		return nil, errdefs.Load(dir, fmt.Errorf("no tokenizer files found"))
	}
	if t.eosID < 0 && t.eosToken != "" {
		if id, ok := t.vocab[t.eosToken]; ok {
			t.eosID = id
		}
	}
	if t.padID < 0 && t.padToken != "" {
		if id, ok := t.vocab[t.padToken]; ok {
			t.padID = id
		}
	}
	return t, nil
}

// LoadModelConfig reads config.json.
func LoadModelConfig(dir string) (ModelConfig, error) {
	var mc ModelConfig
	ok, err := readJSON(filepath.Join(dir, "config.json"), &mc)
	if err != nil {
		return mc, err
	}
	if !ok {
		return mc, errdefs.Load(dir, fmt.Errorf("config.json not found"))
	}
	return mc, nil
}

func (t *Tokenizer) EOSTokenID() int { return t.eosID }

// PadTokenID returns -1 when unknown.
func (t *Tokenizer) PadTokenID() int { return t.padID }

// EOSToken returns the EOS token text.
func (t *Tokenizer) EOSToken() string { return t.eosToken }

// BOSToken returns the BOS token text.
func (t *Tokenizer) BOSToken() string { return t.bosToken }

// HasChatTemplate reports whether tokenizer_config.json carries one.
func (t *Tokenizer) HasChatTemplate() bool { return t.chatTemplate != "" }

// FromFiles reports whether the tokenizer was read from a model directory.
func (t *Tokenizer) FromFiles() bool { return t.fromFiles }

// ForcePadToEOS sets the pad id to the EOS id.
func (t *Tokenizer) ForcePadToEOS() { t.padID = t.eosID }

func (t *Tokenizer) ConvertTokensToIDs(token string) int {
	if id, ok := t.vocab[token]; ok {
		return id
	}
	return -1
}

// SetRenderer installs the chat-template renderer once the engine is up.
func (t *Tokenizer) SetRenderer(r Renderer) { t.render = r }

func (t *Tokenizer) ApplyChatTemplate(ctx context.Context, messages []engine.ChatMessage) (string, error) {
	if t.render == nil {
		return "", errdefs.DependencyUnavailable("chat template rendering requires a running engine")
	}
	return t.render(ctx, messages)
}

type addedToken struct {
	Content string `json:"content"`
}

// specialToken accepts both "</s>" and {"content":"</s>"}.
type specialToken string

func (s *specialToken) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = specialToken(str)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil
	}
	*s = specialToken(obj.Content)
	return nil
}

func intOrList(raw json.RawMessage) []int {
	if len(raw) == 0 {
		return nil
	}
	var one int
	if json.Unmarshal(raw, &one) == nil {
		return []int{one}
	}
	var many []int
	if json.Unmarshal(raw, &many) == nil {
		return many
	}
	return nil
}

func readJSON(path string, out any) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errdefs.Load(path, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, errdefs.Load(path, fmt.Errorf("parse: %w", err))
	}
	return true, nil
}
