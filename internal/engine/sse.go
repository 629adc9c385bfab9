package engine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// ErrStopStream can be returned from an SSE handler to end reading early
// without an error.
var ErrStopStream = errors.New("stop stream")

// ReadSSE reads "data:" lines from r and calls fn with each payload. The
// "[DONE]" sentinel ends the stream. Lines without a data prefix are passed
// through when raw is set (NDJSON and bare JSON streams), otherwise skipped.
func ReadSSE(ctx context.Context, r io.Reader, raw bool, fn func(data string) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" {
			var data string
			ok := true
			switch {
			case strings.HasPrefix(strings.ToLower(l), "data:"):
				data = strings.TrimSpace(l[len("data:"):])
			case raw && !strings.HasPrefix(l, ":") && !strings.HasPrefix(l, "event:") && !strings.HasPrefix(l, "id:"):
				data = l
			default:
				ok = false
			}
			if ok {
				if data == "[DONE]" {
					return nil
				}
				if ferr := fn(data); ferr != nil {
					if errors.Is(ferr, ErrStopStream) {
						return nil
					}
					return ferr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
