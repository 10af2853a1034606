package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"efile/internal/submission/models"
	"efile/pkg/requestcontext"
)

// Poller periodically fetches acknowledgments for TRANSMITTED submissions and,
// when no scheduler is configured, transmits retries that have come due.
type Poller struct {
	svc       *Service
	interval  time.Duration
	workers   int
	batchSize int
	lock      CycleLock
	logger    *slog.Logger
}

// CycleLock lets one of several processes run a cycle at a time.
type CycleLock interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// PollLockKey names the lock a poll cycle holds.
const PollLockKey = "efile:ack-poll"

type PollerOption func(*Poller)

func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

func WithPollWorkers(n int) PollerOption {
	return func(p *Poller) { p.workers = n }
}

func WithPollBatchSize(n int) PollerOption {
	return func(p *Poller) { p.batchSize = n }
}

// WithPollLock skips a cycle when another process holds PollLockKey.
func WithPollLock(l CycleLock) PollerOption {
	return func(p *Poller) { p.lock = l }
}

func WithPollLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

func NewPoller(svc *Service, opts ...PollerOption) *Poller {
	p := &Poller{
		svc:       svc,
		interval:  30 * time.Second,
		workers:   4,
		batchSize: 50,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "ack_poller")
	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.WarnContext(ctx, "poll cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce runs one cycle and reports how many acknowledgments were applied.
// Per-submission errors are logged and do not stop the cycle.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if p.lock != nil {
		release, ok, err := p.lock.TryLock(ctx, PollLockKey)
		if err != nil {
			return 0, err
		}
		if !ok {
			p.logger.DebugContext(ctx, "poll cycle held elsewhere")
			return 0, nil
		}
		defer release()
	}
	if p.svc.scheduler == nil {
		if _, err := p.svc.RetryDue(ctx, p.batchSize); err != nil {
			return 0, err
		}
	}
	recs, err := p.svc.repo.ListByStatus(ctx, models.StatusTransmitted, p.batchSize)
	if err != nil {
		return 0, err
	}

	results := make([]bool, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, rec := range recs {
		g.Go(func() error {
			results[i] = p.pollOne(requestcontext.WithSubmissionID(gctx, rec.ID), rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var applied int
	for _, ok := range results {
		if ok {
			applied++
		}
	}
	return applied, nil
}

// pollOne polls a single submission. A panic is logged and counted as not
// ready so the rest of the cycle and later cycles keep running.
func (p *Poller) pollOne(ctx context.Context, rec *models.Submission) (ready bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "poll panicked",
				append(requestcontext.LogAttrs(ctx), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))...)
			ready = false
		}
	}()
	_, ready, err := p.svc.Poll(ctx, rec.ID)
	if err != nil {
		p.logger.DebugContext(ctx, "poll failed", append(requestcontext.LogAttrs(ctx), "error", err)...)
	}
	return ready
}
