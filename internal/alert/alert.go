package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
	"lendingScope/internal/storage"
)

func encode(a model.HealthAlert) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	return data, nil
}

// JSONLSink appends alerts to a local JSONL file.
type JSONLSink struct {
	w *storage.JsonlWriter
}

var _ lending.AlertSink = (*JSONLSink)(nil)

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{w: storage.NewJsonlWriter(path)}
}

func (s *JSONLSink) Emit(ctx context.Context, a model.HealthAlert) error {
	return s.w.Append(a)
}

// LogSink writes alerts to the logger only.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, a model.HealthAlert) error {
	s.logger.Warn("position below health threshold",
		zap.String("alert_id", a.ID),
		zap.String("owner", a.Owner.Hex()),
		zap.String("health_factor", lending.FormatBps(a.HealthFactor)),
		zap.Uint64("threshold_bps", a.AlertThreshold),
		zap.Int64("timestamp", a.Timestamp),
	)
	return nil
}

// Fanout delivers each alert to every sink concurrently. A failing sink does
// not stop the others; all failures are returned together.
type Fanout struct {
	sinks []lending.AlertSink
}

func NewFanout(sinks ...lending.AlertSink) *Fanout {
	out := make([]lending.AlertSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Emit(ctx context.Context, a model.HealthAlert) error {
	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	for _, sink := range f.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Emit(ctx, a); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
