package types

// ModelMetadata is one row of the supported-models catalog.
type ModelMetadata struct {
	// Model name as users refer to it.
	// example: Qwen/Qwen2.5-7B-Instruct
	Model string `json:"model" example:"Qwen/Qwen2.5-7B-Instruct"`
	// Provider tag of the adapter that serves it.
	// example: hf
	Provider string `json:"provider" example:"hf"`
	// Worker type, "llm" or "text2vec".
	// example: llm
	WorkerType string `json:"worker_type" example:"llm"`
	// Optional path or repository id.
	Path string `json:"path,omitempty"`
	// Human readable description.
	Description string `json:"description,omitempty"`
	// Context window in tokens when known.
	ContextLength int `json:"context_length,omitempty"`
	// Whether the model emits a <think> trace.
	Reasoning bool `json:"reasoning,omitempty"`
	// Adapter implementation that declared the row.
	Adapter string `json:"adapter,omitempty"`
}

// Deployment is the catalog view of a configured model.
type Deployment struct {
	// Deployment name.
	// example: qwen2.5-7b
	Name string `json:"name" example:"qwen2.5-7b"`
	// Provider tag.
	// example: vllm
	Provider string `json:"provider" example:"vllm"`
	// Model path or repository id.
	Path string `json:"path,omitempty"`
	// Adapter chosen by the resolver, empty until loaded.
	Adapter string `json:"adapter,omitempty"`
}
