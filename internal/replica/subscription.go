package replica

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/community-tips/internal/types"
)

// SnapshotFunc receives the full newest-first collection on the initial load
// and after every change the replica observes.
type SnapshotFunc func([]types.Tip)

// Subscribe streams snapshots of the newest limit tips to fn until the
// returned cancel func is called or ctx ends. The first snapshot is delivered
// before Subscribe returns. Cancel blocks until the stream goroutine exits.
func (r *Redis) Subscribe(ctx context.Context, limit int, fn func([]types.Tip)) (func(), error) {
	if !r.Available() {
		return nil, ErrUnavailable
	}

	initial, err := r.Snapshot(ctx, limit)
	if err != nil {
		return nil, err
	}
	fn(initial)
	replicaSnapshots.Inc()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run(ctx, limit, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (r *Redis) run(ctx context.Context, limit int, fn SnapshotFunc) {
	backoff := minBackoffDelay
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := r.client.Subscribe(ctx, r.channel())
		delivered, err := r.consume(ctx, pubsub, limit, fn)
		next, wait := nextBackoff(backoff, delivered)
		backoff = next
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn().Err(err).Dur("backoff", wait).Msg("replica subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// nextBackoff returns the delay to use after the coming wait, and the wait
// itself. A connection that delivered at least one snapshot was healthy, so
// the schedule restarts from the minimum.
func nextBackoff(current time.Duration, delivered bool) (next, wait time.Duration) {
	if delivered {
		return minDuration(minBackoffDelay*2, maxBackoffDelay), minBackoffDelay
	}
	return minDuration(current*2, maxBackoffDelay), current
}

func (r *Redis) consume(ctx context.Context, pubsub *redis.PubSub, limit int, fn SnapshotFunc) (bool, error) {
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, err
	}
	// Changes may have landed between the initial load and the subscription
	// becoming active, or while reconnecting.
	if err := r.emit(ctx, limit, fn); err != nil {
		return false, err
	}

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return true, errors.New("pubsub channel closed")
			}
			drain(ch)
			if err := r.emit(ctx, limit, fn); err != nil {
				if ctx.Err() != nil {
					return true, ctx.Err()
				}
				r.logger.Warn().Err(err).Msg("failed to reload replica snapshot")
			}
		}
	}
}

func (r *Redis) emit(ctx context.Context, limit int, fn SnapshotFunc) error {
	tips, err := r.Snapshot(ctx, limit)
	if err != nil {
		return err
	}
	replicaSnapshots.Inc()
	fn(tips)
	return nil
}

// drain coalesces a burst of notifications into a single reload.
func drain(ch <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
