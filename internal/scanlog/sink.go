package scanlog

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"classattend/internal/metrics"
	"classattend/internal/model"
	"classattend/internal/queue"
)

// Writer persists a scan event.
type Writer interface {
	InsertScanEvent(ctx context.Context, evt model.ScanEvent) error
}

// Sink drains scan messages from a queue into a Writer.
type Sink struct {
	w   Writer
	log *zap.Logger
}

func NewSink(w Writer, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{w: w, log: log}
}

// Run consumes messages until the channel closes. Bad messages and write
// failures are logged and skipped.
func (s *Sink) Run(ctx context.Context, messages <-chan queue.Message) {
	for msg := range messages {
		if msg.Type != queue.TypeScan {
			continue
		}
		var evt model.ScanEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			s.log.Warn("decode scan event", zap.Error(err))
			continue
		}
		if err := s.w.InsertScanEvent(ctx, evt); err != nil {
			s.log.Error("write scan event", zap.String("event_id", evt.ID), zap.Error(err))
			continue
		}
		metrics.ScanEventsWritten.Inc()
		s.log.Debug("scan event written",
			zap.String("event_id", evt.ID),
			zap.String("schedule_id", evt.ScheduleID),
			zap.String("outcome", evt.Outcome))
	}
}
