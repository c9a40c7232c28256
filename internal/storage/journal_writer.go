package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/community-tips/internal/types"
)

const defaultJournalQueue = 256

var journalDropped = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "journal",
	Name:      "dropped_total",
	Help:      "Tip events discarded because the journal queue was full.",
})

func init() {
	prometheus.MustRegister(journalDropped)
}

// Recorder appends a change to durable history.
type Recorder interface {
	Record(ctx context.Context, change types.Change) error
}

// JournalWriter moves journal appends off the mutation path. Changes are
// queued by Enqueue and written in order by Run.
type JournalWriter struct {
	recorder Recorder
	queue    chan types.Change
	logger   zerolog.Logger
	done     chan struct{}
}

// NewJournalWriter constructs a writer with a bounded queue.
func NewJournalWriter(recorder Recorder, logger zerolog.Logger, size int) *JournalWriter {
	if size <= 0 {
		size = defaultJournalQueue
	}
	return &JournalWriter{
		recorder: recorder,
		queue:    make(chan types.Change, size),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Enqueue never blocks; when the queue is full the change is dropped and
// counted.
func (w *JournalWriter) Enqueue(change types.Change) {
	select {
	case w.queue <- change:
	default:
		journalDropped.Inc()
		w.logger.Warn().Str("kind", string(change.Kind)).Str("tip", change.Tip.ID).Msg("journal queue full; event dropped")
	}
}

// Run writes queued changes until ctx ends, then drains what is left with a
// short grace period.
func (w *JournalWriter) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case change := <-w.queue:
			w.write(ctx, change)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// Done is closed once Run has returned.
func (w *JournalWriter) Done() <-chan struct{} {
	return w.done
}

func (w *JournalWriter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case change := <-w.queue:
			w.write(ctx, change)
		default:
			return
		}
	}
}

func (w *JournalWriter) write(ctx context.Context, change types.Change) {
	if err := w.recorder.Record(ctx, change); err != nil {
		w.logger.Error().Err(err).Str("kind", string(change.Kind)).Str("tip", change.Tip.ID).Msg("journal append failed")
	}
}
