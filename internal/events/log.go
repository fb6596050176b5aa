package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogEvents writes every event from ch to logger until ch is closed or ctx
// ends. Failures log at warn, everything else at info.
func LogEvents(ctx context.Context, ch <-chan Event, logger logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			entry := logger.WithFields(ev.Fields()).WithField("event", ev.EventType())
			if ev.EventType() == EventTypeTaskFailed {
				entry.Warn("event")
			} else {
				entry.Info("event")
			}
		}
	}
}
