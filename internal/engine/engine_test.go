package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"modelcore/internal/errdefs"
	"modelcore/pkg/types"
)

func TestTruncateAtStop(t *testing.T) {
	got, hit := TruncateAtStop("hello<|end|>world<eos>", []string{"<eos>", "<|end|>"})
	if !hit || got != "hello" {
		t.Fatalf("got %q %v", got, hit)
	}
	if got, hit := TruncateAtStop("plain", []string{"", "x"}); hit || got != "plain" {
		t.Fatalf("no stop: %q %v", got, hit)
	}
}

func TestHoldStopPrefix(t *testing.T) {
	if got := HoldStopPrefix("answer <|en", []string{"<|end|>"}); got != "answer " {
		t.Fatalf("got %q", got)
	}
	if got := HoldStopPrefix("answer", []string{"<|end|>"}); got != "answer" {
		t.Fatalf("got %q", got)
	}
}

func TestUnions(t *testing.T) {
	if diff := cmp.Diff([]string{"X", "Y"}, UnionStrings([]string{"X", ""}, []string{"Y", "X"})); diff != "" {
		t.Fatalf("strings (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 128009, 42}, UnionInts([]int{2, 128009}, []int{42, 2, -1})); diff != "" {
		t.Fatalf("ints (-want +got):\n%s", diff)
	}
}

func TestReadSSE(t *testing.T) {
	body := ": comment\n\ndata: {\"a\":1}\n\nevent: x\ndata:{\"a\":2}\n\ndata: [DONE]\n\ndata: {\"a\":3}\n"
	var got []string
	err := ReadSSE(context.Background(), strings.NewReader(body), false, func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]string{`{"a":1}`, `{"a":2}`}, got); diff != "" {
		t.Fatalf("payloads (-want +got):\n%s", diff)
	}
}

func TestReadSSERawLinesAndStop(t *testing.T) {
	body := "{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n"
	var got []string
	err := ReadSSE(context.Background(), strings.NewReader(body), true, func(d string) error {
		got = append(got, d)
		if len(got) == 2 {
			return ErrStopStream
		}
		return nil
	})
	if err != nil || len(got) != 2 {
		t.Fatalf("got %v %v", got, err)
	}
	boom := errors.New("boom")
	if err := ReadSSE(context.Background(), strings.NewReader(body), true, func(string) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("handler error lost: %v", err)
	}
}

func TestPostJSONMapsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()
	cli, err := NewHTTPClient(time.Second, "")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	_, err = PostJSON(context.Background(), cli, srv.URL, map[string]string{"Authorization": "Bearer k"}, map[string]any{"x": 1})
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusBadGateway || he.Body != "upstream down" {
		t.Fatalf("expected HTTPError, got %v", err)
	}
}

func TestEmitRespectsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan types.ModelOutput)
	if Emit(ctx, ch, types.ModelOutput{Text: "x"}) {
		t.Fatalf("emit should fail on cancelled ctx")
	}
}

func TestCollect(t *testing.T) {
	ch := make(chan types.ModelOutput, 2)
	ch <- types.ModelOutput{Text: "A"}
	ch <- types.ModelOutput{Text: "AB"}
	close(ch)
	if got := Collect(ch); got.Text != "AB" {
		t.Fatalf("last output %q", got.Text)
	}
}

func TestSurfaceStartErrors(t *testing.T) {
	for _, err := range []error{errdefs.Configf("bad"), errdefs.Protocolf("two systems")} {
		ch, got := Surface("vLLM", nil, err)
		if ch != nil || got != err {
			t.Fatalf("%v should stay synchronous, got ch=%v err=%v", err, ch, got)
		}
	}

	for _, err := range []error{
		&HTTPError{Status: http.StatusServiceUnavailable, Body: "overloaded"},
		errdefs.Authf("missing api key"),
		errors.New("dial tcp: connection refused"),
	} {
		ch, got := Surface("vLLM", nil, err)
		if got != nil {
			t.Fatalf("%v should become an output, got err %v", err, got)
		}
		var outs []types.ModelOutput
		for o := range ch {
			outs = append(outs, o)
		}
		if len(outs) != 1 || outs[0].ErrorCode != 1 {
			t.Fatalf("want one terminal output, got %+v", outs)
		}
		want := "**vLLM Generate Error, Please CheckErrorInfo.**: " + err.Error()
		if outs[0].Text != want {
			t.Fatalf("text=%q want %q", outs[0].Text, want)
		}
	}

	in := make(chan types.ModelOutput)
	if ch, err := Surface("vLLM", in, nil); err != nil || ch != (<-chan types.ModelOutput)(in) {
		t.Fatalf("success must pass the stream through")
	}
}

func TestWindow(t *testing.T) {
	cases := []struct {
		prompt, ctx, maxNew int
		keep, newTokens     int
	}{
		{8, 10, 4, 5, 4},
		{3, 10, 4, 3, 4},
		{3, 10, 20, 3, 6},
		{12, 10, 20, 8, 1},
		{5, 10, 0, 5, 4},
		{5000, 4096, 2048, 2047, 2048},
		{5000, 0, 2048, 5000, 2048},
	}
	for _, c := range cases {
		keep, n := Window(c.prompt, c.ctx, c.maxNew)
		if keep != c.keep || n != c.newTokens {
			t.Fatalf("Window(%d, %d, %d) = %d, %d; want %d, %d", c.prompt, c.ctx, c.maxNew, keep, n, c.keep, c.newTokens)
		}
		if c.ctx > 0 && keep+n >= c.ctx {
			t.Fatalf("Window(%d, %d, %d) overflows: %d+%d", c.prompt, c.ctx, c.maxNew, keep, n)
		}
	}
}

func TestRoomAndKeepTail(t *testing.T) {
	if got := Room(6, 10, 8); got != 3 {
		t.Fatalf("room=%d", got)
	}
	if got := Room(20, 10, 8); got != 1 {
		t.Fatalf("room floor=%d", got)
	}
	if got := Room(20, 0, 8); got != 8 {
		t.Fatalf("unknown window=%d", got)
	}
	if got := Room(2, 10, 0); got != 7 {
		t.Fatalf("unset budget=%d", got)
	}
	if diff := cmp.Diff([]int{3, 4}, KeepTail([]int{1, 2, 3, 4}, 2)); diff != "" {
		t.Fatalf("tail (-want +got):\n%s", diff)
	}
	if got := KeepTail([]int{1, 2}, 5); len(got) != 2 {
		t.Fatalf("short tail=%v", got)
	}
}
