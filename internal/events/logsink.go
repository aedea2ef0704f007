package events

import (
	"context"
	"log/slog"

	"github.com/swarmit/swarmitctl/internal/logger"
)

// LogSink writes every dispatched event as a structured log line. It is the
// default sink wired by the controller facade for `monitor`.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink that logs through log.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) ID() string { return "log" }

func (s *LogSink) Execute(_ context.Context, event DeviceEvent) error {
	logger.WithDevice(s.log, event.Source.String()).Info("device event",
		"kind", string(event.Kind),
		"timestamp", event.Timestamp,
		"data_size", len(event.Data),
		"data", string(event.Data),
	)
	return nil
}
