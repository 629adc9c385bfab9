package types

// DeploymentsResponse wraps the list returned by GET /models.
type DeploymentsResponse struct {
	Models []Deployment `json:"models"`
}

// SupportedModelsResponse wraps the catalog returned by GET /models/supported.
type SupportedModelsResponse struct {
	Models []ModelMetadata `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// CountTokenRequest asks a loaded model to count prompt tokens.
type CountTokenRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// CountTokenResponse carries the count; -1 means unknown.
type CountTokenResponse struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// InstanceStatus summarizes a loaded model for /status.
type InstanceStatus struct {
	// Deployment name.
	// example: qwen2.5-7b
	Name string `json:"name" example:"qwen2.5-7b"`
	// Provider tag.
	// example: vllm
	Provider string `json:"provider" example:"vllm"`
	// Adapter serving the instance.
	Adapter string `json:"adapter,omitempty"`
	// Lifecycle state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this instance served a request (unix seconds).
	LastUsed int64 `json:"last_used_unix"`
	// Requests waiting for a slot.
	QueueLen int `json:"queue_len"`
	// Requests currently generating.
	Inflight int `json:"inflight"`
	// Maximum concurrent generations.
	Concurrency int `json:"concurrency"`
	// Error recorded by the last failed load.
	Error string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Instances      []InstanceStatus `json:"instances"`
	State          string           `json:"state"`
	LastError      string           `json:"last_error,omitempty"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
	ServerTimeUnix int64            `json:"server_time_unix"`
	LoadsTotal     uint64           `json:"loads_total"`
}

// EmbeddingsRequest asks an embedding deployment for vectors.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingsResponse carries one vector per input, in input order.
type EmbeddingsResponse struct {
	Model string      `json:"model"`
	Data  [][]float32 `json:"data"`
}

// OperationResponse identifies a background operation.
type OperationResponse struct {
	// Operation id carried by the matching warm_done / warm_error event.
	Op string `json:"op"`
}
