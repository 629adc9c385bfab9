package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsSurviveWrapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"config", Configf("unknown provider %q", "x"), IsConfig},
		{"load", Load("m", errors.New("oom")), IsLoad},
		{"protocol", Protocolf("Claude only supports single system message"), IsProtocol},
		{"dep", DependencyUnavailable("vllm not installed"), IsDependencyUnavailable},
		{"notfound", ModelNotFound("m"), IsModelNotFound},
		{"busy", TooBusy("m"), IsTooBusy},
		{"auth", Authf("wenxin needs api_key and api_secret"), IsAuth},
	}
	for _, c := range cases {
		wrapped := fmt.Errorf("outer: %w", c.err)
		if !c.is(c.err) || !c.is(wrapped) {
			t.Fatalf("%s: predicate failed for %v", c.name, wrapped)
		}
	}
	if IsConfig(TooBusy("m")) || IsTooBusy(Configf("x")) || IsConfig(Authf("x")) {
		t.Fatalf("kinds must not overlap")
	}
}

func TestProtocolMessageVerbatim(t *testing.T) {
	err := Protocolf("Claude only supports single system message")
	if err.Error() != "Claude only supports single system message" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestLoadNilAndUnwrap(t *testing.T) {
	if Load("m", nil) != nil {
		t.Fatalf("Load(nil) should be nil")
	}
	base := errors.New("disk")
	if !errors.Is(Load("m", base), base) {
		t.Fatalf("Load should unwrap to cause")
	}
}
