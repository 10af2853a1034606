package main

import (
	"context"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"efile/internal/alerting"
	"efile/internal/amendment"
	amendmentmemory "efile/internal/amendment/store/memory"
	amendmentpostgres "efile/internal/amendment/store/postgres"
	"efile/internal/consistency"
	"efile/internal/credential"
	"efile/internal/forms"
	"efile/internal/optimizer"
	"efile/internal/pipeline"
	"efile/internal/platform/database"
	"efile/internal/platform/kafka"
	"efile/internal/platform/redis"
	"efile/internal/retry"
	"efile/internal/schema"
	"efile/internal/signer"
	"efile/internal/submission/handler"
	"efile/internal/submission/metrics"
	"efile/internal/submission/scheduler"
	"efile/internal/submission/service"
	submissionmemory "efile/internal/submission/store/memory"
	submissionpostgres "efile/internal/submission/store/postgres"
	submissionsqlite "efile/internal/submission/store/sqlite"
	"efile/internal/transport/mef"
	"efile/internal/transport/mef/meftest"
	id "efile/pkg/domain"
	"efile/pkg/platform/audit"
	"efile/pkg/platform/audit/publisher"
	auditmemory "efile/pkg/platform/audit/store/memory"
	auditpostgres "efile/pkg/platform/audit/store/postgres"
	"efile/pkg/platform/audit/worker"
	"efile/pkg/platform/circuit"
)

// app is the wired process: every stage, the tracker around them and the
// background loops serve runs.
type app struct {
	logger     *slog.Logger
	registry   *prometheus.Registry
	creds      *credential.Manager
	schemas    *schema.Registry
	tracker    *service.Service
	pipeline   *pipeline.Pipeline
	amendments *amendment.Service
	poller     *service.Poller
	checks     map[string]handler.Check
	// lock is shared by every process on the same database; nil otherwise.
	lock service.CycleLock

	// background loops; serve runs them, one-shot commands do not
	background map[string]func(ctx context.Context) error
	closers    []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (c *cli) credentials() *credential.Manager {
	cc := c.cfg.Credentials
	opts := []credential.Option{credential.WithLogger(c.logger)}
	if cc.Passphrase != "" {
		opts = append(opts, credential.WithPassphrase(cc.Passphrase))
	}
	if cc.Validity > 0 {
		opts = append(opts, credential.WithValidity(cc.Validity))
	}
	if cc.KeyBits > 0 {
		opts = append(opts, credential.WithKeyBits(cc.KeyBits))
	}
	if cc.CommonName != "" {
		opts = append(opts, credential.WithCommonName(cc.CommonName))
	}
	return credential.NewManager(cc.Dir, opts...)
}

// schemaRegistry layers schema.dir over the embedded definitions and shares
// registrations through Redis when a client is given.
func (c *cli) schemaRegistry(ctx context.Context, rc *redis.Client) (*schema.Registry, error) {
	opts := []schema.Option{schema.WithLogger(c.logger)}
	if c.cfg.Schema.Dir != "" {
		opts = append(opts, schema.WithSource(schema.Embedded()), schema.WithSource(schema.Dir(c.cfg.Schema.Dir)))
	}
	if rc != nil {
		opts = append(opts, schema.WithStore(schema.NewRedisStore(rc.Client)))
	}
	return schema.New(ctx, opts...)
}

func (c *cli) calculator() (*consistency.Calculator, error) {
	opts := []consistency.Option{
		consistency.WithRateMaxAge(c.cfg.Consistency.RateMaxAge),
		consistency.WithLogger(c.logger),
	}
	if c.cfg.Consistency.Tolerance != "" {
		tol, err := decimal.NewFromString(c.cfg.Consistency.Tolerance)
		if err != nil {
			return nil, fmt.Errorf("consistency.tolerance: %w", err)
		}
		opts = append(opts, consistency.WithTolerance(tol))
	}
	return consistency.New(opts...), nil
}

func (c *cli) signer() (*signer.Signer, error) {
	opts := []signer.Option{signer.WithLogger(c.logger)}
	if path := c.cfg.MeF.AckSigningRootCA; path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ack signing root: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", path)
		}
		opts = append(opts, signer.WithRoots(roots))
	}
	return signer.New(opts...), nil
}

func (c *cli) classifier() *retry.Classifier {
	opts := []retry.Option{retry.WithLogger(c.logger)}
	for cat, p := range c.cfg.Retry.Policies() {
		opts = append(opts, retry.WithPolicy(cat, p))
	}
	return retry.NewClassifier(opts...)
}

// stores picks the submission, amendment and audit stores for the configured
// driver.
type stores struct {
	submissions service.Repository
	amendments  amendment.Store
	audit       audit.Store
	outbox      *auditpostgres.Store
	tx          service.Transactor
}

func (c *cli) openStores(ctx context.Context, a *app) (stores, error) {
	switch c.cfg.Database.Driver {
	case "postgres":
		db, err := database.Open(ctx, c.cfg.Database)
		if err != nil {
			return stores{}, err
		}
		a.onClose(db.Close)
		if err := database.Migrate(ctx, db, c.logger); err != nil {
			return stores{}, err
		}
		a.checks["database"] = pingDB(db)
		locker, err := database.OpenLocker(ctx, c.cfg.Database)
		if err != nil {
			return stores{}, err
		}
		a.onClose(func() error { locker.Close(); return nil })
		a.lock = locker
		outbox := auditpostgres.New(db)
		return stores{
			submissions: submissionpostgres.New(db),
			amendments:  amendmentpostgres.New(db),
			audit:       outbox,
			outbox:      outbox,
			tx:          service.SQLTx{DB: db},
		}, nil
	case "sqlite":
		st, err := submissionsqlite.Open(c.cfg.Database.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		a.onClose(st.Close)
		// TODO: persist amendment records and audit events in the SQLite file.
		return stores{
			submissions: st,
			amendments:  amendmentmemory.New(),
			audit:       auditmemory.NewInMemoryStore(),
		}, nil
	default:
		return stores{
			submissions: submissionmemory.NewInMemoryStore(),
			amendments:  amendmentmemory.New(),
			audit:       auditmemory.NewInMemoryStore(),
		}, nil
	}
}

func pingDB(db *sql.DB) handler.Check {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}

// transport dials MeF, or starts the in-process stand-in when no endpoint is
// configured.
func (c *cli) transport(ctx context.Context, a *app) (service.Transport, error) {
	mc := c.cfg.MeF
	tokens := mef.NewTokenIssuer(a.creds, mc.Issuer, mc.Audience, c.cfg.Builder.SoftwareID, mc.TokenTTL)
	opts := []mef.Option{
		mef.WithTimeout(mc.Timeout),
		mef.WithBreaker(circuit.New("mef",
			circuit.WithFailureThreshold(mc.BreakerFailures),
			circuit.WithCooldown(mc.BreakerCooldown),
		)),
		mef.WithLogger(c.logger),
	}
	if mc.BaseURL != "" {
		return mef.New(mc.BaseURL, tokens, opts...), nil
	}

	cred, err := a.creds.Current()
	if err != nil {
		return nil, err
	}
	stub, err := meftest.NewStub(cred.CertificateDER, mc.Issuer, mc.Audience)
	if err != nil {
		return nil, fmt.Errorf("start sandbox transport: %w", err)
	}
	srv := stub.Start()
	a.onClose(func() error { srv.Close(); return nil })
	c.logger.WarnContext(ctx, "mef.base_url is not set; transmitting to the in-process sandbox", "url", srv.URL)
	return mef.New(srv.URL, tokens, opts...), nil
}

// wire builds the whole process. The caller must Close the result.
func (c *cli) wire(ctx context.Context) (_ *app, err error) {
	a := &app{
		logger:     c.logger,
		registry:   prometheus.NewRegistry(),
		checks:     map[string]handler.Check{},
		background: map[string]func(context.Context) error{},
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	a.creds = c.credentials()
	if _, err := a.creds.Initialize(ctx); err != nil {
		return nil, err
	}

	rc, err := redis.New(ctx, c.cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.onClose(rc.Close)
		a.checks["redis"] = rc.Health
	}

	a.schemas, err = c.schemaRegistry(ctx, rc)
	if err != nil {
		return nil, err
	}
	calc, err := c.calculator()
	if err != nil {
		return nil, err
	}
	sgn, err := c.signer()
	if err != nil {
		return nil, err
	}

	st, err := c.openStores(ctx, a)
	if err != nil {
		return nil, err
	}

	alerter := alerting.Fanout{alerting.NewLogAlerter(c.logger)}
	if len(c.cfg.Kafka.Brokers) > 0 {
		kc, err := kafka.New(kafka.Config{Brokers: c.cfg.Kafka.Brokers, ClientID: c.cfg.Kafka.ClientID}, c.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { kc.Close(); return nil })
		topics := worker.DefaultTopics()
		if err := kc.EnsureTopics(ctx, append(topics.TopicNames(), c.cfg.Kafka.AlertTopic)...); err != nil {
			return nil, err
		}
		a.checks["kafka"] = kc.Ping
		alerter = append(alerter, alerting.NewKafkaAlerter(kc, c.cfg.Kafka.AlertTopic))
		if st.outbox != nil {
			relay := worker.NewRelay(st.outbox, kc, worker.WithTopics(topics), worker.WithLogger(c.logger))
			a.background["audit relay"] = relay.Run
		}
	}

	auditor := publisher.NewPublisher(st.audit,
		publisher.WithLogger(c.logger),
		publisher.WithMetrics(publisher.NewMetrics(a.registry)),
	)
	a.onClose(auditor.Close)

	transport, err := c.transport(ctx, a)
	if err != nil {
		return nil, err
	}

	classifier := c.classifier()

	// The scheduler calls back into the tracker it is handed to.
	var tracker *service.Service
	retryOne := func(ctx context.Context, subID id.SubmissionID) {
		if _, err := tracker.Transmit(ctx, subID); err != nil {
			c.logger.WarnContext(ctx, "scheduled retry failed", "submission_id", subID.String(), "error", err)
		}
	}
	var sched service.Scheduler
	if rc != nil {
		rs := scheduler.NewRedis(rc.Client, retryOne, scheduler.WithRedisLogger(c.logger))
		a.background["retry scheduler"] = rs.Run
		sched = rs
	} else {
		ms := scheduler.NewMemory(retryOne, scheduler.WithMemoryLogger(c.logger))
		a.onClose(ms.Close)
		sched = ms
	}

	trackerOpts := []service.Option{
		service.WithScheduler(sched),
		service.WithAlerter(alerter),
		service.WithAuditor(auditor),
		service.WithClassifier(classifier),
		service.WithAckVerifier(sgn),
		service.WithMetrics(m),
		service.WithLogger(c.logger),
	}
	if st.tx != nil {
		trackerOpts = append(trackerOpts, service.WithTransactor(st.tx))
	}
	tracker = service.New(st.submissions, transport, trackerOpts...)
	a.tracker = tracker

	pc := c.cfg.Poller
	pollOpts := []service.PollerOption{
		service.WithPollInterval(pc.Interval),
		service.WithPollWorkers(pc.Workers),
		service.WithPollBatchSize(pc.BatchSize),
		service.WithPollLogger(c.logger),
	}
	if a.lock != nil {
		pollOpts = append(pollOpts, service.WithPollLock(a.lock))
	}
	a.poller = service.NewPoller(tracker, pollOpts...)
	a.background["acknowledgment poller"] = a.poller.Run

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Forms:      forms.NewService(forms.WithSoftwareID(c.cfg.Builder.SoftwareID), forms.WithLogger(c.logger)),
		Schemas:    a.schemas,
		Calculator: calc,
		Optimizer: optimizer.New(
			optimizer.WithMaxSize(c.cfg.Optimizer.MaxSize),
			optimizer.WithLevel(c.cfg.Optimizer.Level),
			optimizer.WithLogger(c.logger),
		),
		Signer:      sgn,
		Credentials: a.creds,
		Tracker:     tracker,
	},
		pipeline.WithBatchConcurrency(c.cfg.Pipeline.BatchConcurrency),
		pipeline.WithClassifier(classifier),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}

	a.amendments = amendment.New(tracker, a.pipeline, a.schemas, calc, st.amendments, amendment.WithLogger(c.logger))
	return a, nil
}
