//go:build !llama

package llamacpp

import (
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
)

// Built reports whether the cgo runtime is compiled in.
const Built = false

func newRuntime(*params.LlamaCppParams) (runtime, error) {
	return nil, errdefs.DependencyUnavailable("llama.cpp support not compiled in: rebuild with -tags=llama or use provider llama_cpp_server")
}
