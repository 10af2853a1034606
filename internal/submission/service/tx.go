package service

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	dErrors "efile/pkg/domain-errors"
	txcontext "efile/pkg/platform/tx"
	"efile/pkg/requestcontext"
)

// Transactor groups a status write with its audit event.
// Implementations may wrap a database transaction or, in-memory, a lock.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// numShards spreads per-submission locks so unrelated submissions never wait
// on each other.
const numShards = 64

const defaultTxTimeout = 5 * time.Second

type shardedTx struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

// NewShardedTx returns the in-memory transactor. It serializes work on the
// submission carried by ctx.
func NewShardedTx() Transactor {
	return &shardedTx{timeout: defaultTxTimeout}
}

func (t *shardedTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

func (t *shardedTx) selectShard(ctx context.Context) int {
	subID := requestcontext.SubmissionID(ctx)
	if subID.IsNil() {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(subID.String()))
	return int(h.Sum32() % numShards)
}

// SQLTx runs fn in a database transaction carried through ctx, so Postgres
// stores join it via pkg/platform/tx.
type SQLTx struct {
	DB *sql.DB
}

func (t SQLTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, t.DB, fn)
}
