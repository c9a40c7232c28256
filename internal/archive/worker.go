package archive

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/community-tips/internal/tips"
	"github.com/example/community-tips/internal/types"
)

const (
	defaultInterval = 15 * time.Minute
	defaultPrefix   = "archive/tips/"
	latestObject    = "latest.json"
)

// Source is the engine surface the worker reads from.
type Source interface {
	Tips() []types.Tip
	Subscribe(listener tips.Listener) func()
}

// Worker periodically exports the tip collection to object storage whenever
// it changed since the previous export.
type Worker struct {
	source Source
	store  ObjectStore
	logger zerolog.Logger

	interval time.Duration
	prefix   string
	now      func() time.Time

	dirty atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval overrides the export period.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithPrefix overrides the object key prefix.
func WithPrefix(prefix string) Option {
	return func(w *Worker) {
		w.prefix = prefix
	}
}

// NewWorker constructs an archive worker.
func NewWorker(source Source, store ObjectStore, logger zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		source:   source,
		store:    store,
		logger:   logger,
		interval: defaultInterval,
		prefix:   defaultPrefix,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes to engine changes and runs the export loop until ctx ends.
// A final export is attempted on shutdown.
func (w *Worker) Start(ctx context.Context) {
	unsubscribe := w.source.Subscribe(func(types.Change) {
		w.dirty.Add(1)
	})
	go func() {
		defer unsubscribe()
		w.loop(ctx)
	}()
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Export(ctx); err != nil {
				w.logger.Error().Err(err).Msg("archive export failed")
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := w.Export(flushCtx); err != nil {
				w.logger.Warn().Err(err).Msg("final archive export failed")
			}
			cancel()
			return
		}
	}
}

// Export writes the collection if anything changed since the last export and
// reports whether it did.
func (w *Worker) Export(ctx context.Context) (bool, error) {
	pending := w.dirty.Swap(0)
	if pending == 0 {
		return false, nil
	}

	ctx, span := tracer.Start(ctx, "archive.export")
	defer span.End()

	data, err := types.EncodeTips(w.source.Tips())
	if err != nil {
		w.dirty.Add(pending)
		exports.WithLabelValues("error").Inc()
		return false, fmt.Errorf("encode archive: %w", err)
	}

	key := fmt.Sprintf("%s%d.json", w.prefix, w.now().Unix())
	for _, k := range []string{key, w.prefix + latestObject} {
		if err := w.store.Put(ctx, k, data); err != nil {
			w.dirty.Add(pending)
			exports.WithLabelValues("error").Inc()
			return false, fmt.Errorf("upload archive: %w", err)
		}
	}

	exports.WithLabelValues("ok").Inc()
	exportBytes.Set(float64(len(data)))
	span.SetAttributes(attribute.String("archive.key", key), attribute.Int("archive.bytes", len(data)))
	w.logger.Info().Str("key", key).Int64("changes", pending).Msg("tips archived")
	return true, nil
}

// Restore reads the most recent export. It returns ErrNoArchive when none
// exists.
func Restore(ctx context.Context, store ObjectStore, prefix string) ([]types.Tip, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	data, err := store.Get(ctx, prefix+latestObject)
	if err != nil {
		if errors.Is(err, ErrNoArchive) {
			return nil, err
		}
		return nil, fmt.Errorf("restore archive: %w", err)
	}
	restored, _, err := types.DecodeTips(data)
	if err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return restored, nil
}
