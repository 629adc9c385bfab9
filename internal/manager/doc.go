// Package manager is the model worker: it owns the configured deployments,
// loads them through the adapter registry on first use and coordinates
// admission, generation and teardown. It is structured into small files by
// concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: Config and package defaults.
//   - types.go: instance state types.
//   - ensure.go: EnsureInstance, the resolve/load/bind lifecycle.
//   - admission.go: per-instance queueing and generation admission.
//   - generate.go: GenerateStream and Generate.
//   - tokens.go: CountTokens and Embed.
//   - evict.go: eviction to fit within the VRAM budget.
//   - stop.go: Stop (drain and release) and Close.
//   - status.go: Status and deployment listings.
//   - sanity.go: runtime dependency checks.
//   - ops.go: background warm-up operations.
//
// External packages should treat this package as the orchestration layer and
// use the exported methods only; Instance internals are subject to change.
package manager
