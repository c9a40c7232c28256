package tips

import (
	"context"
	"time"
)

// pruneLoop expires stale tips every PruneInterval until ctx is cancelled.
func (e *Engine) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pruneRuns.Inc()
			e.Prune(ctx)
		case <-ctx.Done():
			return
		}
	}
}
