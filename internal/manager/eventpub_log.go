package manager

import (
	"strings"

	"github.com/rs/zerolog"
)

type logPublisher struct{ log zerolog.Logger }

// NewLogPublisher writes each event as one structured log line
// (event=<name> model=<id> plus the event fields). Failures log at warn.
func NewLogPublisher(l zerolog.Logger) EventPublisher { return logPublisher{log: l} }

func (p logPublisher) Publish(e Event) {
	ev := p.log.Info()
	if strings.HasSuffix(e.Name, "_error") || strings.HasSuffix(e.Name, "_fail") || strings.HasSuffix(e.Name, "_timeout") {
		ev = p.log.Warn()
	}
	ev.Str("event", e.Name).Str("model", e.ModelID).Fields(e.Fields).Msg("manager")
}
