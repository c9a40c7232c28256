package tips

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/community-tips/internal/observability"
	"github.com/example/community-tips/internal/types"
)

// Listener receives every change to the canonical collection, in the order
// the mutations were applied.
type Listener func(types.Change)

// SubmitRequest carries a new tip from the presentation layer.
type SubmitRequest struct {
	Text  string
	Image *Image
}

// ReportResult describes the outcome of a report.
type ReportResult struct {
	Found   bool `json:"found"`
	Reports int  `json:"reports"`
	Deleted bool `json:"deleted"`
}

// Engine owns the canonical tip collection and is its only mutation surface.
type Engine struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	tips     []types.Tip
	started  bool
	stop     func()

	backend Backend
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger

	lmu          sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine constructs an engine over the selected backend.
func NewEngine(backend Backend, cfg Config, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		tips:      []types.Tip{},
		backend:   backend,
		cfg:       cfg.withDefaults(),
		now:       types.Now,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode reports which backend is active.
func (e *Engine) Mode() Mode {
	return e.backend.Mode()
}

// Config returns the effective tunables.
func (e *Engine) Config() Config {
	return e.cfg
}

// Subscribe registers a listener and returns a func that removes it.
func (e *Engine) Subscribe(listener Listener) func() {
	e.lmu.Lock()
	defer e.lmu.Unlock()

	id := e.nextListener
	e.nextListener++
	e.listeners[id] = listener
	return func() {
		e.lmu.Lock()
		defer e.lmu.Unlock()
		delete(e.listeners, id)
	}
}

// Start loads the initial collection from the backend. In local-only mode it
// prunes once and then keeps pruning every PruneInterval until ctx ends.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("tip engine already started")
	}
	e.started = true
	e.mu.Unlock()

	// Open may deliver the first snapshot synchronously, so it runs unlocked.
	stop, err := e.backend.Open(ctx, e.cfg.SubscriptionLimit, func(incoming []types.Tip) {
		e.replace(ctx, incoming)
	})
	if err != nil {
		return fmt.Errorf("open %s backend: %w", e.backend.Mode(), err)
	}

	e.mu.Lock()
	e.stop = stop
	e.mu.Unlock()

	if e.backend.Mode() == ModeLocal {
		e.Prune(ctx)
		go e.pruneLoop(ctx)
	}
	return nil
}

// Close ends the backend subscription, if any.
func (e *Engine) Close() {
	e.mu.Lock()
	stop := e.stop
	e.stop = nil
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Tips returns a deep copy of the collection, newest first.
func (e *Engine) Tips() []types.Tip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedCopy(e.tips)
}

// Get returns a copy of one tip.
func (e *Engine) Get(id string) (types.Tip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(id)
	if idx < 0 {
		return types.Tip{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.tips[idx].Clone(), nil
}

// Submit validates and stores a new tip.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (types.Tip, error) {
	ctx, span := tracer.Start(ctx, "tips.submit")
	defer span.End()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		rejections.WithLabelValues("empty_tip").Inc()
		return types.Tip{}, fmt.Errorf("%w: tip text is required", ErrValidation)
	}
	imageURL, err := e.encodeImage(req.Image)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			rejections.WithLabelValues("image_too_large").Inc()
		} else {
			rejections.WithLabelValues("bad_image").Inc()
		}
		return types.Tip{}, err
	}

	tip := types.Tip{
		ID:           types.NewID(),
		Text:         text,
		ImageDataURL: imageURL,
		CreatedAt:    e.now(),
		Reports:      0,
		Comments:     []types.Comment{},
	}
	span.SetAttributes(attribute.String("tip.id", tip.ID))

	e.mu.Lock()
	e.tips = append([]types.Tip{tip}, e.tips...)
	e.persist(ctx, func(all []types.Tip) error { return e.backend.Created(ctx, tip, all) })
	change := e.changeLocked(types.ChangeCreated, tip)
	e.publish(change)

	submitted.Inc()
	return tip.Clone(), nil
}

// Report adds one report to a tip and deletes it once the threshold is
// reached. Unknown ids are a no-op.
func (e *Engine) Report(ctx context.Context, id string) (ReportResult, error) {
	ctx, span := tracer.Start(ctx, "tips.report")
	defer span.End()
	span.SetAttributes(attribute.String("tip.id", id))

	e.mu.Lock()
	idx := e.indexOf(id)
	if idx < 0 {
		e.mu.Unlock()
		return ReportResult{}, nil
	}

	e.tips[idx].Reports++
	tip := e.tips[idx].Clone()
	reports.Inc()

	if tip.Reports >= e.cfg.ReportThreshold {
		e.tips = append(e.tips[:idx], e.tips[idx+1:]...)
		e.persist(ctx, func(all []types.Tip) error { return e.backend.Deleted(ctx, id, all) })
		change := e.changeLocked(types.ChangeDeleted, tip)
		e.publish(change)

		deletions.WithLabelValues("reports").Inc()
		e.logger.Info().Str("tip", id).Int("reports", tip.Reports).Msg("tip removed after reaching report threshold")
		return ReportResult{Found: true, Reports: tip.Reports, Deleted: true}, nil
	}

	e.persist(ctx, func(all []types.Tip) error { return e.backend.Reported(ctx, tip, all) })
	change := e.changeLocked(types.ChangeReported, tip)
	e.publish(change)
	return ReportResult{Found: true, Reports: tip.Reports}, nil
}

// AddComment appends an escaped comment to a tip. Empty text is rejected
// with ErrValidation and changes nothing; unknown ids are a no-op.
func (e *Engine) AddComment(ctx context.Context, id, text string) (types.Comment, error) {
	ctx, span := tracer.Start(ctx, "tips.add_comment")
	defer span.End()
	span.SetAttributes(attribute.String("tip.id", id))

	clean, ok := e.sanitizeComment(text)
	if !ok {
		rejections.WithLabelValues("empty_comment").Inc()
		return types.Comment{}, fmt.Errorf("%w: comment text is required", ErrValidation)
	}

	e.mu.Lock()
	idx := e.indexOf(id)
	if idx < 0 {
		e.mu.Unlock()
		return types.Comment{}, nil
	}

	comment := types.Comment{ID: types.NewID(), Text: clean, CreatedAt: e.now()}
	e.tips[idx].Comments = append(e.tips[idx].Comments, comment)
	tip := e.tips[idx].Clone()

	e.persist(ctx, func(all []types.Tip) error { return e.backend.Commented(ctx, tip, all) })
	change := e.changeLocked(types.ChangeCommented, tip)
	e.publish(change)

	comments.Inc()
	return comment, nil
}

// Prune removes tips older than the TTL and returns how many were removed.
// It only acts in local-only mode; running it again without time passing
// removes nothing.
func (e *Engine) Prune(ctx context.Context) int {
	if e.backend.Mode() != ModeLocal {
		return 0
	}
	ctx, span := tracer.Start(ctx, "tips.prune")
	defer span.End()

	e.mu.Lock()
	now := e.now()
	kept := make([]types.Tip, 0, len(e.tips))
	var expired []types.Tip
	for _, t := range e.tips {
		if t.ExpiredAt(now, e.cfg.TTL) {
			expired = append(expired, t)
			continue
		}
		kept = append(kept, t)
	}
	if len(expired) == 0 {
		e.mu.Unlock()
		return 0
	}

	e.tips = kept
	ids := make([]string, len(expired))
	for i, t := range expired {
		ids[i] = t.ID
	}
	e.persist(ctx, func(all []types.Tip) error { return e.backend.Expired(ctx, ids, all) })

	snapshot := sortedCopy(e.tips)
	changes := make([]types.Change, len(expired))
	for i, t := range expired {
		changes[i] = types.Change{Kind: types.ChangeExpired, Tip: t.Clone(), Snapshot: snapshot, At: now}
	}
	e.publish(changes...)

	deletions.WithLabelValues("ttl").Add(float64(len(expired)))
	span.SetAttributes(attribute.Int("tips.expired", len(expired)))
	e.logger.Info().Int("expired", len(expired)).Msg("pruned expired tips")
	return len(expired)
}

// replace swaps the whole collection, as delivered by the backend on load and
// on every remote snapshot. The newest delivery wins. In local-only mode
// expired tips are dropped and the store rewritten before anything is
// published, so no listener ever sees them.
func (e *Engine) replace(ctx context.Context, incoming []types.Tip) {
	local := e.backend.Mode() == ModeLocal

	e.mu.Lock()
	now := e.now()
	next := make([]types.Tip, 0, len(incoming))
	var expired []types.Tip
	for _, t := range incoming {
		if t.Reports >= e.cfg.ReportThreshold {
			continue
		}
		if local && t.ExpiredAt(now, e.cfg.TTL) {
			expired = append(expired, t)
			continue
		}
		next = append(next, t.Clone())
	}
	e.tips = next

	if len(expired) == 0 {
		change := e.changeLocked(types.ChangeReplaced, types.Tip{})
		e.publish(change)
		return
	}

	ids := make([]string, len(expired))
	for i, t := range expired {
		ids[i] = t.ID
	}
	e.persist(ctx, func(all []types.Tip) error { return e.backend.Expired(ctx, ids, all) })
	snapshot := sortedCopy(e.tips)
	changes := make([]types.Change, 0, len(expired)+1)
	for _, t := range expired {
		changes = append(changes, types.Change{Kind: types.ChangeExpired, Tip: t.Clone(), Snapshot: snapshot, At: now})
	}
	changes = append(changes, types.Change{Kind: types.ChangeReplaced, Snapshot: snapshot, At: now})
	e.publish(changes...)

	deletions.WithLabelValues("ttl").Add(float64(len(expired)))
	e.logger.Info().Int("expired", len(expired)).Msg("dropped expired tips on load")
}

// persist runs a backend write while e.mu is held. Storage failures are
// logged and counted; the in-memory collection stays authoritative.
func (e *Engine) persist(ctx context.Context, write func([]types.Tip) error) {
	all := types.CloneTips(e.tips)
	if err := write(all); err != nil {
		storageFailures.Inc()
		observability.LoggerWithTrace(ctx, e.logger).Error().Err(err).Str("mode", string(e.backend.Mode())).Msg("tip persistence failed; keeping in-memory state")
	}
	activeTips.Set(float64(len(e.tips)))
}

func (e *Engine) changeLocked(kind types.ChangeKind, tip types.Tip) types.Change {
	return types.Change{Kind: kind, Tip: tip, Snapshot: sortedCopy(e.tips), At: e.now()}
}

// publish must be called with e.mu held; it releases it. Taking notifyMu
// before unlocking keeps listener delivery in mutation order.
func (e *Engine) publish(changes ...types.Change) {
	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	e.lmu.RLock()
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.lmu.RUnlock()

	for _, change := range changes {
		for _, l := range listeners {
			l(change)
		}
	}
}

func (e *Engine) indexOf(id string) int {
	for i := range e.tips {
		if e.tips[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) sanitizeComment(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if runes := []rune(text); len(runes) > e.cfg.MaxCommentLength {
		text = strings.TrimSpace(string(runes[:e.cfg.MaxCommentLength]))
	}
	return html.EscapeString(text), true
}

func sortedCopy(tips []types.Tip) []types.Tip {
	out := types.CloneTips(tips)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
