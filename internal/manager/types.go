package manager

import (
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/engine"
	"modelcore/internal/params"
)

// State represents lifecycle state of the worker and its instances.
type State string

const (
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateError    State = "error"
	StateDraining State = "draining"
)

// Instance is one loaded deployment.
type Instance struct {
	Name      string
	Deploy    params.Deploy
	Adapter   adapter.LLMAdapter
	Model     engine.Model
	Tokenizer engine.Tokenizer

	State     State
	LastUsed  time.Time
	EstVRAMMB int
	// Err is the last load failure while State is StateError.
	Err string

	stream   engine.StreamFunc
	generate engine.GenerateFunc

	// genCh holds one token per running generation; queueCh bounds the
	// requests admitted to wait for one.
	genCh   chan struct{}
	queueCh chan struct{}
}

// Provider is the deployment's provider tag.
func (i *Instance) Provider() string { return i.Deploy.Base().Provider }

// embedInstance is one loaded embedding deployment.
type embedInstance struct {
	name     string
	deploy   params.Deploy
	adapter  adapter.EmbeddingAdapter
	embedder adapter.Embedder
}
