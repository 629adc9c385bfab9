package device

import (
	"context"
	"errors"
	"testing"

	"modelcore/internal/errdefs"
)

func withRunner(t *testing.T, fn func(name string, args ...string) ([]byte, error)) {
	t.Helper()
	old := runner
	runner = func(_ context.Context, name string, args ...string) ([]byte, error) { return fn(name, args...) }
	t.Cleanup(func() { runner = old })
}

func TestGPUsParsesNvidiaSmi(t *testing.T) {
	withRunner(t, func(name string, _ ...string) ([]byte, error) {
		if name != "nvidia-smi" {
			t.Fatalf("unexpected command %s", name)
		}
		return []byte("0, 24000\n1, 12000\ngarbage\n"), nil
	})
	gpus := GPUs(context.Background())
	if len(gpus) != 2 || gpus[0].FreeBytes != 24000<<20 || gpus[1].Index != 1 {
		t.Fatalf("unexpected gpus %+v", gpus)
	}
	if Resolve(context.Background(), "auto") != "cuda" {
		t.Fatalf("auto should resolve to cuda when gpus exist")
	}
	if Resolve(context.Background(), "cpu") != "cpu" {
		t.Fatalf("explicit device must be kept")
	}
}

func TestGPUsWithoutDriver(t *testing.T) {
	withRunner(t, func(string, ...string) ([]byte, error) { return nil, errors.New("not found") })
	if n := Count(context.Background()); n != 0 {
		t.Fatalf("count %d", n)
	}
}

func TestTransformersVersion(t *testing.T) {
	withRunner(t, func(string, ...string) ([]byte, error) { return []byte("4.34.1\n"), nil })
	v, err := TransformersVersion(context.Background(), "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if AtLeast(v, "4.35.0") || !AtLeast(v, "4.34.0") {
		t.Fatalf("comparison wrong for %s", v)
	}
	withRunner(t, func(string, ...string) ([]byte, error) { return nil, errors.New("no module") })
	if _, err := TransformersVersion(context.Background(), "python3"); !errdefs.IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestAtLeastPrerelease(t *testing.T) {
	v, err := ParseVersion("4.40.0.dev0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !AtLeast(v, "4.40.0") {
		t.Fatalf("dev build of the same core version should pass")
	}
	if !AtLeast(nil, "99.0") {
		t.Fatalf("unknown version passes")
	}
	if _, err := ParseVersion("2.1.0+cu118"); err != nil {
		t.Fatalf("local version label: %v", err)
	}
}
