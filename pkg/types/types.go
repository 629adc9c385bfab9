package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles understood by the core. "user" and "assistant" are accepted
// as aliases on input and normalized by NormalizeRole.
const (
	RoleSystem = "system"
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleTool   = "tool"
)

// NormalizeRole maps OpenAI-style role names onto the core roles.
func NormalizeRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleSystem:
		return RoleSystem, nil
	case RoleHuman, "user":
		return RoleHuman, nil
	case RoleAI, "assistant":
		return RoleAI, nil
	case RoleTool, "function":
		return RoleTool, nil
	default:
		return "", fmt.Errorf("unknown message role %q", role)
	}
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// MessageContent holds either a plain string or a list of parts.
// It marshals back to whichever shape it was built from.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds plain string content.
func TextContent(s string) MessageContent { return MessageContent{Text: s} }

// IsMultipart reports whether the content was given as parts.
func (c MessageContent) IsMultipart() bool { return c.Parts != nil }

// String flattens the content to text. Non-text parts are dropped.
func (c MessageContent) String() string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == "text" || (p.Type == "" && p.Text != "") {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*c = MessageContent{}
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var parts []ContentPart
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	}
	var text string
	if err := json.Unmarshal(b, &text); err != nil {
		return fmt.Errorf("message content must be a string or a list of parts: %w", err)
	}
	*c = MessageContent{Text: text}
	return nil
}

// ModelMessage is one conversation turn.
type ModelMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// NewMessage is a shorthand for a text message.
func NewMessage(role, content string) ModelMessage {
	return ModelMessage{Role: role, Content: TextContent(content)}
}

// MessagesToString renders messages as "role: content" lines, used as a
// human readable prompt for logging and proxy token estimates.
func MessagesToString(msgs []ModelMessage) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content.String())
	}
	return b.String()
}

// StopList accepts either a single string or a list of strings in JSON.
type StopList []string

func (s *StopList) UnmarshalJSON(b []byte) error {
	t := strings.TrimSpace(string(b))
	if t == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(t, "[") {
		var arr []string
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*s = arr
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	if one == "" {
		*s = nil
		return nil
	}
	*s = StopList{one}
	return nil
}

// ModelRequest is the logical call entering the core.
type ModelRequest struct {
	Model        string         `json:"model"`
	Messages     []ModelMessage `json:"messages"`
	Temperature  *float64       `json:"temperature,omitempty"`
	TopP         *float64       `json:"top_p,omitempty"`
	TopK         *int           `json:"top_k,omitempty"`
	MaxNewTokens int            `json:"max_new_tokens,omitempty"`
	Stop         StopList       `json:"stop,omitempty"`
	StopTokenIDs []int          `json:"stop_token_ids,omitempty"`
	Echo         *bool          `json:"echo,omitempty"`
	Stream       bool           `json:"stream,omitempty"`
	// Version selects the message convention: "v1" is the legacy compat
	// format, "v2" (default) is strict OpenAI shape.
	Version string `json:"version,omitempty"`
	// ConvertToCompatibleFormat overrides the choice derived from Version.
	ConvertToCompatibleFormat *bool          `json:"convert_to_compatible_format,omitempty"`
	Context                   map[string]any `json:"context,omitempty"`
}

// Usage reports token accounting for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelOutput is one streamed delta. Text is the full accumulated text.
type ModelOutput struct {
	Text             string `json:"text"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
	Usage            *Usage `json:"usage,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
	ErrorCode        int    `json:"error_code"`
}

// Success reports whether the output carries no engine error.
func (o ModelOutput) Success() bool { return o.ErrorCode == 0 }

// ErrorOutput builds the terminal output for a failed remote or engine call.
func ErrorOutput(vendor string, err error) ModelOutput {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return ModelOutput{
		Text:      fmt.Sprintf("**%s Generate Error, Please CheckErrorInfo.**: %s", vendor, detail),
		ErrorCode: 1,
	}
}
