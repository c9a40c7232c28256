package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/community-tips/internal/types"
)

const (
	defaultPrefix   = "tips"
	pingTimeout     = 3 * time.Second
	minBackoffDelay = time.Second
	maxBackoffDelay = 30 * time.Second
)

var (
	// ErrUnavailable is returned by every operation once the startup ping
	// failed; the session stays local-only.
	ErrUnavailable = errors.New("remote replica unavailable")
	// ErrMissing is returned when a field update targets a tip the replica
	// does not hold.
	ErrMissing = errors.New("tip not present in replica")
)

// setFieldIfExists updates one hash field only when the tip still exists, so
// a late report or comment never resurrects a removed record.
var setFieldIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PUBLISH', ARGV[3], ARGV[4])
return 1
`)

// Redis mirrors the tip collection into Redis: one hash per tip, a sorted
// index by creation time and a pub/sub channel announcing changes.
type Redis struct {
	client    *redis.Client
	logger    zerolog.Logger
	prefix    string
	available bool
}

// Option configures the Redis replica.
type Option func(*Redis)

// WithPrefix namespaces every key and channel.
func WithPrefix(prefix string) Option {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis pings the server once. A nil client or failed ping yields an
// unavailable replica rather than an error.
func NewRedis(ctx context.Context, client *redis.Client, logger zerolog.Logger, opts ...Option) *Redis {
	r := &Redis{client: client, logger: logger, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(r)
	}
	if client == nil {
		return r
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis replica unavailable; tips will be local only")
		return r
	}
	r.available = true
	return r
}

// Available reports whether the startup ping succeeded.
func (r *Redis) Available() bool {
	return r != nil && r.available
}

// Create upserts a tip by id.
func (r *Redis) Create(ctx context.Context, tip types.Tip) (err error) {
	ctx, span := tracer.Start(ctx, "replica.create")
	defer span.End()
	span.SetAttributes(attribute.String("tip.id", tip.ID))
	defer observe("create", &err)

	if !r.Available() {
		return ErrUnavailable
	}

	comments, err := json.Marshal(nonNilComments(tip.Comments))
	if err != nil {
		return fmt.Errorf("encode comments: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.tipKey(tip.ID), map[string]interface{}{
			"id":           tip.ID,
			"text":         tip.Text,
			"imageDataUrl": tip.ImageDataURL,
			"createdAt":    types.Stamp(tip.CreatedAt),
			"reports":      tip.Reports,
			"comments":     string(comments),
		})
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(tip.CreatedAt.UnixMilli()), Member: tip.ID})
		pipe.Publish(ctx, r.channel(), tip.ID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("create tip %s: %w", tip.ID, err)
	}
	return nil
}

// SetReports stores an explicit report count; the caller computes the value.
func (r *Redis) SetReports(ctx context.Context, id string, reports int) (err error) {
	ctx, span := tracer.Start(ctx, "replica.set_reports")
	defer span.End()
	defer observe("set_reports", &err)

	return r.setField(ctx, id, "reports", strconv.Itoa(reports))
}

// SetComments replaces the full comment list of a tip.
func (r *Redis) SetComments(ctx context.Context, id string, comments []types.Comment) (err error) {
	ctx, span := tracer.Start(ctx, "replica.set_comments")
	defer span.End()
	defer observe("set_comments", &err)

	encoded, err := json.Marshal(nonNilComments(comments))
	if err != nil {
		return fmt.Errorf("encode comments: %w", err)
	}
	return r.setField(ctx, id, "comments", string(encoded))
}

// Remove deletes a tip by id.
func (r *Redis) Remove(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "replica.remove")
	defer span.End()
	defer observe("remove", &err)

	if !r.Available() {
		return ErrUnavailable
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.tipKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		pipe.Publish(ctx, r.channel(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove tip %s: %w", id, err)
	}
	return nil
}

// Snapshot loads the newest limit tips, newest first.
func (r *Redis) Snapshot(ctx context.Context, limit int) ([]types.Tip, error) {
	if !r.Available() {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		return []types.Tip{}, nil
	}

	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read tip index: %w", err)
	}
	if len(ids) == 0 {
		return []types.Tip{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	if _, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.tipKey(id))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("read tips: %w", err)
	}

	tips := make([]types.Tip, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		tip, err := decodeHash(fields)
		if err != nil {
			r.logger.Warn().Err(err).Str("tip", ids[i]).Msg("skipping malformed replica record")
			continue
		}
		tips = append(tips, tip)
	}
	return tips, nil
}

func (r *Redis) setField(ctx context.Context, id, field, value string) error {
	if !r.Available() {
		return ErrUnavailable
	}
	res, err := setFieldIfExists.Run(ctx, r.client, []string{r.tipKey(id)}, field, value, r.channel(), id).Int()
	if err != nil {
		return fmt.Errorf("update %s of tip %s: %w", field, id, err)
	}
	if res == 0 {
		return fmt.Errorf("update %s of tip %s: %w", field, id, ErrMissing)
	}
	return nil
}

func (r *Redis) tipKey(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

func (r *Redis) indexKey() string {
	return r.prefix + ":index"
}

func (r *Redis) channel() string {
	return r.prefix + ":changes"
}

func decodeHash(fields map[string]string) (types.Tip, error) {
	tip := types.Tip{
		ID:           fields["id"],
		Text:         fields["text"],
		ImageDataURL: fields["imageDataUrl"],
		Comments:     []types.Comment{},
	}
	if tip.ID == "" {
		return types.Tip{}, errors.New("missing id")
	}

	createdAt, err := types.ParseStamp(fields["createdAt"])
	if err != nil {
		return types.Tip{}, fmt.Errorf("parse createdAt: %w", err)
	}
	tip.CreatedAt = createdAt

	if raw := fields["reports"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return types.Tip{}, fmt.Errorf("parse reports: %w", err)
		}
		if n > 0 {
			tip.Reports = n
		}
	}

	if raw := fields["comments"]; raw != "" {
		var comments []types.Comment
		if err := json.Unmarshal([]byte(raw), &comments); err != nil {
			return types.Tip{}, fmt.Errorf("parse comments: %w", err)
		}
		tip.Comments = nonNilComments(comments)
	}
	return tip, nil
}

func nonNilComments(c []types.Comment) []types.Comment {
	if c == nil {
		return []types.Comment{}
	}
	return c
}

func observe(op string, err *error) {
	result := "ok"
	if *err != nil {
		result = "error"
	}
	replicaOps.WithLabelValues(op, result).Inc()
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
