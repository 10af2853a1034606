package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "efile/pkg/domain"
)

// ErrClosed is returned when scheduling on a closed scheduler.
var ErrClosed = errors.New("scheduler closed")

// DefaultRetryKey is the sorted set holding due times in unix milliseconds.
const DefaultRetryKey = "efile:retries"

// claimDue pops up to ARGV[2] members scored at or below ARGV[1]. Running it
// as one script keeps two workers from claiming the same retry.
var claimDue = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #items > 0 then
  redis.call('ZREM', KEYS[1], unpack(items))
end
return items
`)

// Redis keeps scheduled retries in a sorted set so they survive restarts and
// are shared by every instance.
type Redis struct {
	client   redis.UniversalClient
	handler  Handler
	key      string
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *slog.Logger
}

type RedisOption func(*Redis)

func WithKey(key string) RedisOption {
	return func(r *Redis) { r.key = key }
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.interval = d }
}

func WithBatch(n int) RedisOption {
	return func(r *Redis) { r.batch = n }
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = logger }
}

func NewRedis(client redis.UniversalClient, handler Handler, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		handler:  handler,
		key:      DefaultRetryKey,
		interval: time.Second,
		batch:    50,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "retry_scheduler")
	return r
}

func (r *Redis) Schedule(ctx context.Context, subID id.SubmissionID, at time.Time) error {
	return r.client.ZAdd(ctx, r.key, redis.Z{Score: float64(at.UnixMilli()), Member: subID.String()}).Err()
}

func (r *Redis) Cancel(ctx context.Context, subID id.SubmissionID) error {
	return r.client.ZRem(ctx, r.key, subID.String()).Err()
}

// Pending reports how many retries are waiting.
func (r *Redis) Pending(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.key).Result()
}

// Claim removes and returns the retries due now.
func (r *Redis) Claim(ctx context.Context) ([]id.SubmissionID, error) {
	members, err := claimDue.Run(ctx, r.client, []string{r.key},
		strconv.FormatInt(r.now().UnixMilli(), 10), r.batch).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]id.SubmissionID, 0, len(members))
	for _, m := range members {
		subID, err := id.ParseSubmissionID(m)
		if err != nil {
			r.logger.Warn("dropping malformed retry entry", "member", m)
			continue
		}
		out = append(out, subID)
	}
	return out, nil
}

// Run claims and executes due retries until ctx is cancelled.
func (r *Redis) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		due, err := r.Claim(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "claiming due retries failed", "error", err)
		}
		for _, subID := range due {
			r.handler(ctx, subID)
		}
		if len(due) == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
