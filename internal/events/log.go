package events

import (
	"strings"

	"github.com/rs/zerolog"
)

// Log writes each event as one structured line at debug level; names ending
// in "_error" or "_timeout" are logged as warnings.
type Log struct {
	Logger zerolog.Logger
}

func (p Log) Publish(e Event) {
	ev := p.Logger.Debug()
	if strings.HasSuffix(e.Name, "_error") || strings.HasSuffix(e.Name, "_timeout") {
		ev = p.Logger.Warn()
	}
	ev.Str("event", e.Name).Str("model", e.Model).Fields(e.Fields).Msg("event")
}

