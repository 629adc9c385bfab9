package manager

import (
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/events"
	"modelcore/internal/params"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
	// defaultConcurrency applies to engines that batch internally; the
	// in-process llama.cpp runtime always gets one slot.
	defaultConcurrency = 4
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	// Registry resolves deployments to adapters. Required.
	Registry *adapter.Registry
	// Deployments are the configured models; names must be unique.
	Deployments []params.Deploy
	// DefaultModel serves requests that name no model.
	DefaultModel string
	// BudgetMB enables LRU eviction of idle local instances when the
	// estimated footprint would exceed BudgetMB-MarginMB. Zero disables it.
	BudgetMB int
	MarginMB int
	// MaxQueueDepth bounds waiting requests per instance.
	MaxQueueDepth int
	// MaxWait bounds how long a request waits for a queue or generation slot.
	MaxWait time.Duration
	// DrainTimeout bounds how long Stop waits for in-flight work.
	DrainTimeout time.Duration
	Publisher    events.Publisher
}

func (c Config) withDefaults() Config {
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	c.Publisher = events.OrNoop(c.Publisher)
	return c
}

// concurrencyFor returns the generation slots of one instance.
func concurrencyFor(p params.Deploy) int {
	b := p.Base()
	if b.Provider == params.ProviderLlamaCpp {
		return 1
	}
	if b.Concurrency > 0 {
		return b.Concurrency
	}
	return defaultConcurrency
}
