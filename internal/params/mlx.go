package params

import (
	"fmt"

	"modelcore/internal/errdefs"
)

// MLXParams configures mlx_lm.server on Apple silicon.
type MLXParams struct {
	BaseParams
	ServerParams

	TrustRemoteCode        *bool          `json:"trust_remote_code,omitempty"`
	AdapterPath            string         `json:"adapter_path,omitempty"`
	ChatTemplate           string         `json:"chat_template,omitempty"`
	UseDefaultChatTemplate bool           `json:"use_default_chat_template,omitempty"`
	DraftModel             string         `json:"draft_model,omitempty"`
	NumDraftTokens         int            `json:"num_draft_tokens,omitempty"`
	Extras                 map[string]any `json:"extras,omitempty"`
}

func (p *MLXParams) Validate() error {
	if err := p.BaseParams.Validate(); err != nil {
		return err
	}
	if p.Path == "" && p.APIBase == "" {
		return errdefs.Configf("deployment %q: path is required for provider mlx", p.Name)
	}
	return nil
}

// MLXArgs renders `mlx_lm.server` arguments.
func (p *MLXParams) MLXArgs(port int) []string {
	args := []string{"--model", p.ResolvedPath(), "--host", p.Host(), "--port", fmt.Sprint(port)}
	if p.TrustRemoteCode == nil || *p.TrustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	args = strFlag(args, p.AdapterPath, "--adapter-path")
	args = strFlag(args, p.ChatTemplate, "--chat-template")
	args = boolFlag(args, p.UseDefaultChatTemplate, "--use-default-chat-template")
	args = strFlag(args, p.DraftModel, "--draft-model")
	args = intFlag(args, p.NumDraftTokens, "--num-draft-tokens")
	args = extrasArgs(args, p.Extras)
	return append(args, p.ExtraArgs...)
}
