package tips

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/example/community-tips/internal/types"
)

// Mode names the persistence backend active for a session.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// LocalStore is the durable single-slot store backing local-only mode and
// every remote fallback.
type LocalStore interface {
	Load(ctx context.Context) []types.Tip
	Save(ctx context.Context, tips []types.Tip) error
}

// Replica is the optional remote mirror keyed by tip id.
type Replica interface {
	Available() bool
	Subscribe(ctx context.Context, limit int, fn func([]types.Tip)) (func(), error)
	Create(ctx context.Context, tip types.Tip) error
	SetReports(ctx context.Context, id string, reports int) error
	Remove(ctx context.Context, id string) error
	SetComments(ctx context.Context, id string, comments []types.Comment) error
}

// Backend persists engine mutations. Every method receives the full
// collection after the mutation so implementations can fall back to a
// whole-collection save. A returned error always wraps ErrStorageFailure.
type Backend interface {
	Mode() Mode
	// Open delivers the initial collection to apply and, for live backends,
	// keeps delivering replacements until the returned stop func is called.
	Open(ctx context.Context, limit int, apply func([]types.Tip)) (func(), error)
	Created(ctx context.Context, tip types.Tip, all []types.Tip) error
	Reported(ctx context.Context, tip types.Tip, all []types.Tip) error
	Deleted(ctx context.Context, id string, all []types.Tip) error
	Commented(ctx context.Context, tip types.Tip, all []types.Tip) error
	Expired(ctx context.Context, ids []string, all []types.Tip) error
}

// SelectBackend picks the remote backend when the replica came up, the local
// one otherwise. The choice holds for the whole session.
func SelectBackend(replica Replica, local LocalStore, logger zerolog.Logger) Backend {
	if replica != nil && replica.Available() {
		logger.Info().Str("mode", string(ModeRemote)).Msg("tip persistence selected")
		return NewRemoteBackend(replica, local, logger)
	}
	logger.Info().Str("mode", string(ModeLocal)).Msg("tip persistence selected")
	return NewLocalBackend(local)
}

// LocalBackend writes the whole collection to the local store on every
// mutation.
type LocalBackend struct {
	store LocalStore
}

// NewLocalBackend wraps a local store.
func NewLocalBackend(store LocalStore) *LocalBackend {
	return &LocalBackend{store: store}
}

func (b *LocalBackend) Mode() Mode { return ModeLocal }

func (b *LocalBackend) Open(ctx context.Context, _ int, apply func([]types.Tip)) (func(), error) {
	apply(b.store.Load(ctx))
	return func() {}, nil
}

func (b *LocalBackend) Created(ctx context.Context, _ types.Tip, all []types.Tip) error {
	return b.save(ctx, all)
}

func (b *LocalBackend) Reported(ctx context.Context, _ types.Tip, all []types.Tip) error {
	return b.save(ctx, all)
}

func (b *LocalBackend) Deleted(ctx context.Context, _ string, all []types.Tip) error {
	return b.save(ctx, all)
}

func (b *LocalBackend) Commented(ctx context.Context, _ types.Tip, all []types.Tip) error {
	return b.save(ctx, all)
}

func (b *LocalBackend) Expired(ctx context.Context, _ []string, all []types.Tip) error {
	return b.save(ctx, all)
}

func (b *LocalBackend) save(ctx context.Context, all []types.Tip) error {
	if err := b.store.Save(ctx, all); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// RemoteBackend sends each mutation to the replica and, when that fails,
// saves the collection locally instead. If the subscription cannot be
// established the backend degrades to local-only for the rest of the
// session: Mode reports ModeLocal and every write goes to the local store.
type RemoteBackend struct {
	replica  Replica
	local    *LocalBackend
	logger   zerolog.Logger
	degraded atomic.Bool
}

// NewRemoteBackend wraps a replica with a local fallback store.
func NewRemoteBackend(replica Replica, local LocalStore, logger zerolog.Logger) *RemoteBackend {
	return &RemoteBackend{replica: replica, local: NewLocalBackend(local), logger: logger}
}

func (b *RemoteBackend) Mode() Mode {
	if b.degraded.Load() {
		return ModeLocal
	}
	return ModeRemote
}

func (b *RemoteBackend) Open(ctx context.Context, limit int, apply func([]types.Tip)) (func(), error) {
	stop, err := b.replica.Subscribe(ctx, limit, apply)
	if err != nil {
		// Set before loading so the initial apply already sees local mode.
		b.degraded.Store(true)
		b.logger.Warn().Err(fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)).Msg("replica subscription failed; session is local only")
		remoteFallbacks.WithLabelValues("subscribe").Inc()
		return b.local.Open(ctx, limit, apply)
	}
	return stop, nil
}

func (b *RemoteBackend) Created(ctx context.Context, tip types.Tip, all []types.Tip) error {
	if b.degraded.Load() {
		return b.local.save(ctx, all)
	}
	return b.fallback(ctx, "create", tip.ID, b.replica.Create(ctx, tip), all)
}

func (b *RemoteBackend) Reported(ctx context.Context, tip types.Tip, all []types.Tip) error {
	if b.degraded.Load() {
		return b.local.save(ctx, all)
	}
	return b.fallback(ctx, "set_reports", tip.ID, b.replica.SetReports(ctx, tip.ID, tip.Reports), all)
}

func (b *RemoteBackend) Deleted(ctx context.Context, id string, all []types.Tip) error {
	if b.degraded.Load() {
		return b.local.save(ctx, all)
	}
	return b.fallback(ctx, "remove", id, b.replica.Remove(ctx, id), all)
}

func (b *RemoteBackend) Commented(ctx context.Context, tip types.Tip, all []types.Tip) error {
	if b.degraded.Load() {
		return b.local.save(ctx, all)
	}
	return b.fallback(ctx, "set_comments", tip.ID, b.replica.SetComments(ctx, tip.ID, tip.Comments), all)
}

// Expired is only reached once the backend has degraded to local-only; the
// replica has no expiry.
func (b *RemoteBackend) Expired(ctx context.Context, _ []string, all []types.Tip) error {
	return b.local.save(ctx, all)
}

func (b *RemoteBackend) fallback(ctx context.Context, op, id string, remoteErr error, all []types.Tip) error {
	if remoteErr == nil {
		return nil
	}
	remoteFallbacks.WithLabelValues(op).Inc()
	b.logger.Warn().
		Err(fmt.Errorf("%w: %v", ErrRemoteUnavailable, remoteErr)).
		Str("op", op).
		Str("tip", id).
		Msg("replica write failed; saving locally")
	return b.local.save(ctx, all)
}
