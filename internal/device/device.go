// Package device probes accelerators and the Python runtime that hosts
// engine servers.
package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"

	"modelcore/internal/errdefs"
)

// runner executes a command and returns stdout. Replaced in tests.
var runner = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// GPU is one visible CUDA device.
type GPU struct {
	Index     int
	FreeBytes int64
}

// GPUs lists CUDA devices with their free memory. A missing nvidia-smi
// yields an empty list.
func GPUs(ctx context.Context) []GPU {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := runner(ctx, "nvidia-smi", "--query-gpu=index,memory.free", "--format=csv,noheader,nounits")
	if err != nil {
		return nil
	}
	return parseGPUs(out)
}

func parseGPUs(out []byte) []GPU {
	var gpus []GPU
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), ",")
		if len(parts) != 2 {
			continue
		}
		idx, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		mib, err2 := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		gpus = append(gpus, GPU{Index: idx, FreeBytes: mib << 20})
	}
	return gpus
}

// Count returns the number of visible CUDA devices.
func Count(ctx context.Context) int { return len(GPUs(ctx)) }

// Resolve maps "auto" to cuda, mps or cpu depending on what is present.
func Resolve(ctx context.Context, dev string) string {
	dev = strings.ToLower(strings.TrimSpace(dev))
	if dev != "" && dev != "auto" {
		return dev
	}
	if Count(ctx) > 0 {
		return "cuda"
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "mps"
	}
	return "cpu"
}

// PythonPackageVersion asks python for pkg.__version__.
func PythonPackageVersion(ctx context.Context, python, pkg string) (*version.Version, error) {
	if python == "" {
		python = "python3"
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := runner(ctx, python, "-c", fmt.Sprintf("import %s; print(%s.__version__)", pkg, pkg))
	if err != nil {
		return nil, errdefs.DependencyUnavailable(fmt.Sprintf("%s is not installed for %s: %v", pkg, python, err))
	}
	v, err := ParseVersion(string(out))
	if err != nil {
		return nil, fmt.Errorf("parse %s version: %w", pkg, err)
	}
	return v, nil
}

var pep440 = regexp.MustCompile(`^(\d+(?:\.\d+)*)(.*)$`)

// ParseVersion accepts Python style versions such as "4.40.0.dev0" or
// "2.1.0+cu118".
func ParseVersion(s string) (*version.Version, error) {
	s = strings.TrimSpace(s)
	if m := pep440.FindStringSubmatch(s); m != nil && m[2] != "" && !strings.HasPrefix(m[2], "+") && !strings.HasPrefix(m[2], "-") {
		s = m[1] + "-" + strings.TrimPrefix(m[2], ".")
	}
	return version.NewVersion(s)
}

// TransformersVersion returns the installed transformers version.
func TransformersVersion(ctx context.Context, python string) (*version.Version, error) {
	return PythonPackageVersion(ctx, python, "transformers")
}

// AtLeast reports whether v >= min. A nil v is treated as unknown and
// passes.
func AtLeast(v *version.Version, min string) bool {
	if v == nil {
		return true
	}
	c, err := version.NewConstraint(">= " + min)
	if err != nil {
		return true
	}
	return c.Check(v.Core())
}
