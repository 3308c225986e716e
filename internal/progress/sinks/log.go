package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/feedharvest/internal/progress"
)

// LogSink writes one structured line per event. Lifecycle events log at
// info, per-pass events at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.DebugLevel
		switch {
		case evt.Stage == progress.StageRunError:
			level = zapcore.WarnLevel
		case evt.Stage.Lifecycle():
			level = zapcore.InfoLevel
		}
		ce := s.logger.Check(level, stageMessage(evt.Stage))
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int64("total", evt.Total),
		}
		if evt.Stage == progress.StagePassDone {
			fields = append(fields, zap.Int64("new_records", evt.NewRecords))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.URI != "" {
			fields = append(fields, zap.String("uri", evt.URI))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func stageMessage(stage progress.Stage) string {
	switch stage {
	case progress.StageRunStart:
		return "harvest run started"
	case progress.StagePassDone:
		return "collection pass done"
	case progress.StageCheckpoint:
		return "checkpoint written"
	case progress.StageRunDone:
		return "harvest run finished"
	case progress.StageRunError:
		return "harvest run failed"
	default:
		return "progress event"
	}
}
