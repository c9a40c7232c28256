package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/example/community-tips/internal/types"
)

// DefaultTipsKey is the durable slot the collection lives under. The name is
// kept from the browser build so exported data stays recognisable.
const DefaultTipsKey = "bct_tips_v3"

// LocalStore persists the whole tip collection as one JSON value in badger.
type LocalStore struct {
	db     *DB
	key    []byte
	logger zerolog.Logger
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithKey overrides the key the collection is stored under.
func WithKey(key string) LocalOption {
	return func(s *LocalStore) {
		s.key = []byte(key)
	}
}

// NewLocalStore constructs a store on top of an opened badger instance.
func NewLocalStore(db *DB, logger zerolog.Logger, opts ...LocalOption) *LocalStore {
	s := &LocalStore{
		db:     db,
		key:    []byte(DefaultTipsKey),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted collection in stored order. A missing key,
// unreadable value or corrupt JSON all yield an empty collection.
func (s *LocalStore) Load(ctx context.Context) []types.Tip {
	if err := ctx.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("local load skipped")
		return []types.Tip{}
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return []types.Tip{}
	}
	if err != nil {
		localCorrupt.WithLabelValues("read").Inc()
		s.logger.Error().Err(err).Str("key", string(s.key)).Msg("failed to read local tips")
		return []types.Tip{}
	}

	tips, skipped, err := types.DecodeTips(raw)
	if err != nil {
		localCorrupt.WithLabelValues("decode").Inc()
		s.logger.Error().Err(err).Str("key", string(s.key)).Msg("local tips corrupt; starting empty")
		return []types.Tip{}
	}
	if skipped > 0 {
		localCorrupt.WithLabelValues("record").Add(float64(skipped))
		s.logger.Warn().Int("skipped", skipped).Msg("dropped malformed local tip records")
	}
	return tips
}

// Save overwrites the stored collection.
func (s *LocalStore) Save(ctx context.Context, tips []types.Tip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		localSaveLatency.Observe(time.Since(start).Seconds())
	}()

	data, err := types.EncodeTips(tips)
	if err != nil {
		return fmt.Errorf("encode tips: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	}); err != nil {
		return fmt.Errorf("write %s: %w", s.key, err)
	}
	localTipCount.Set(float64(len(tips)))
	return nil
}

// SetRaw writes an arbitrary value under the store key. It exists for
// recovery tooling and tests that need to plant damaged data.
func (s *LocalStore) SetRaw(data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
}
