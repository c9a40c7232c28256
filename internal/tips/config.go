package tips

import "time"

const (
	DefaultTTL               = 7 * 24 * time.Hour
	DefaultReportThreshold   = 5
	DefaultMaxImageBytes     = 2_621_440 // 2.5 MiB
	DefaultSubscriptionLimit = 100
	DefaultPruneInterval     = time.Hour
	DefaultMaxCommentLength  = 500
)

// Config holds the engine tunables.
type Config struct {
	TTL               time.Duration
	ReportThreshold   int
	MaxImageBytes     int
	SubscriptionLimit int
	PruneInterval     time.Duration
	MaxCommentLength  int
}

// DefaultConfig returns the canonical tunables: 7 day TTL, 5 reports.
func DefaultConfig() Config {
	return Config{
		TTL:               DefaultTTL,
		ReportThreshold:   DefaultReportThreshold,
		MaxImageBytes:     DefaultMaxImageBytes,
		SubscriptionLimit: DefaultSubscriptionLimit,
		PruneInterval:     DefaultPruneInterval,
		MaxCommentLength:  DefaultMaxCommentLength,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.ReportThreshold <= 0 {
		c.ReportThreshold = def.ReportThreshold
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = def.MaxImageBytes
	}
	if c.SubscriptionLimit <= 0 {
		c.SubscriptionLimit = def.SubscriptionLimit
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = def.PruneInterval
	}
	if c.MaxCommentLength <= 0 {
		c.MaxCommentLength = def.MaxCommentLength
	}
	return c
}
