package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"efile/internal/platform/httpserver"
	"efile/internal/platform/secrets"
	"efile/internal/submission/handler"
)

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operations server, acknowledgment poller and retry loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	a, err := c.wire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.Error("shutdown", "error", err)
		}
	}()

	opts := []handler.Option{
		handler.WithGatherer(a.registry),
		handler.WithLogger(c.logger),
	}
	if hash := c.cfg.Server.WebhookSecretHash; hash != "" {
		verifier, err := secrets.NewBearerVerifier(hash)
		if err != nil {
			return err
		}
		opts = append(opts, handler.WithVerifier(verifier))
	} else {
		c.logger.WarnContext(ctx, "server.webhook_secret_hash is not set; write endpoints are disabled")
	}
	for name, check := range a.checks {
		opts = append(opts, handler.WithCheck(name, check))
	}
	srv := httpserver.New(c.cfg.Server.Addr, handler.New(a.tracker, opts...).Router(), c.cfg.Server.ReadHeaderTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, c.cfg.Server.ShutdownTimeout, c.logger)
	})
	for name, run := range a.background {
		g.Go(func() error {
			c.logger.InfoContext(gctx, "background loop started", "loop", name)
			if err := run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.ErrorContext(gctx, "background loop stopped", "loop", name, "error", err)
				return err
			}
			return nil
		})
	}
	g.Go(func() error { return c.sweepRetries(gctx, a) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sweepRetries transmits PENDING submissions whose retry time has passed.
// Scheduled retries that did not survive a restart are picked up here.
func (c *cli) sweepRetries(ctx context.Context, a *app) error {
	interval := c.cfg.Poller.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := c.sweepOnce(ctx, a)
		if err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "retry sweep failed", "error", err)
		} else if n > 0 {
			c.logger.InfoContext(ctx, "retry sweep", "attempted", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

const retrySweepLockKey = "efile:retry-sweep"

func (c *cli) sweepOnce(ctx context.Context, a *app) (int, error) {
	if a.lock != nil {
		release, ok, err := a.lock.TryLock(ctx, retrySweepLockKey)
		if err != nil || !ok {
			return 0, err
		}
		defer release()
	}
	return a.tracker.RetryDue(ctx, c.cfg.Poller.BatchSize)
}
