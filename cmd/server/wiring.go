package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"vigil/internal/consensus/adapters"
	"vigil/internal/consensus/eventlog"
	consensushandler "vigil/internal/consensus/handler"
	consensusmetrics "vigil/internal/consensus/metrics"
	consensusservice "vigil/internal/consensus/service"
	"vigil/internal/consensus/sources"
	"vigil/internal/consensus/statecache"
	jwttoken "vigil/internal/jwt_token"
	"vigil/internal/notification"
	"vigil/internal/platform/config"
	"vigil/internal/platform/kafka/admin"
	"vigil/internal/platform/kafka/consumer"
	"vigil/internal/platform/kafka/producer"
	"vigil/internal/platform/metrics"
	"vigil/internal/platform/outbox"
	"vigil/internal/platform/postgres"
	vigilredis "vigil/internal/platform/redis"
	recoveryhandler "vigil/internal/recovery/handler"
	recoverymetrics "vigil/internal/recovery/metrics"
	recoverymodels "vigil/internal/recovery/models"
	recoveryservice "vigil/internal/recovery/service"
	recoverystore "vigil/internal/recovery/store"
	httptransport "vigil/internal/transport/http"
	vaulthandler "vigil/internal/vault/handler"
	vaultmetrics "vigil/internal/vault/metrics"
	vaultmodels "vigil/internal/vault/models"
	vaultservice "vigil/internal/vault/service"
	vaultstore "vigil/internal/vault/store"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/audit"
	auditconsumer "vigil/pkg/platform/audit/consumer"
	"vigil/pkg/platform/audit/publisher"
	"vigil/pkg/platform/audit/publishers/compliance"
	"vigil/pkg/platform/audit/publishers/ops"
	"vigil/pkg/platform/audit/publishers/security"
	auditmemory "vigil/pkg/platform/audit/store/memory"
	auditpg "vigil/pkg/platform/audit/store/postgres"
	"vigil/pkg/platform/circuit"
	txcontext "vigil/pkg/platform/tx"
)

// application is everything main runs: the router, the background loops and
// the resources to release on shutdown.
type application struct {
	Router     http.Handler
	Background []func(ctx context.Context)
	closers    []func() error
	logger     *slog.Logger
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse acquisition order.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", "error", err)
		}
	}
}

// infra holds the optional backing services. A nil field selects the
// in-memory fallback.
type infra struct {
	db       *sql.DB
	redis    *vigilredis.Client
	producer *producer.Producer
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *application, err error) {
	app := &application{logger: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()
	m := metrics.New()
	health := httptransport.NewHealth(m)

	inf, err := connect(ctx, cfg, log, app, health)
	if err != nil {
		return nil, err
	}

	// Audit: Postgres writes through the outbox, otherwise memory.
	var auditStore audit.Store = auditmemory.NewInMemoryStore(auditmemory.WithRetention(100_000))
	tx := txcontext.Runner(txcontext.NopRunner{})
	if inf.db != nil {
		auditStore = auditpg.New(inf.db)
		tx = txcontext.NewSQLRunner(inf.db, 5*time.Second)
	}
	trail := publisher.NewPublisher(auditStore, publisher.WithAsyncBuffer(256), publisher.WithLogger(log))
	app.onClose(trail.Close)
	compliancePub := compliance.New(auditStore, compliance.WithLogger(log), compliance.WithMetrics(compliance.NewMetrics()))
	securityPub := security.New(auditStore, 1024, security.WithLogger(log))
	app.onClose(securityPub.Close)
	opsTracker := ops.New(auditStore,
		ops.WithLogger(log),
		ops.WithMetrics(ops.NewMetrics()),
		ops.WithSampler(ops.NewEngineSampler(cfg.Audit.EngineSampleRate)),
		ops.WithBreaker(circuit.New("audit-ops", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))),
	)

	var sink notification.Sink = notification.NewLogSink(log)
	if inf.producer != nil {
		sink = notification.NewKafkaSink(inf.producer, cfg.Kafka.NotificationTopic)
	}
	dispatcher := notification.NewDispatcher(sink,
		notification.WithLogger(log),
		notification.WithMetrics(notification.NewMetrics()),
	)
	app.onClose(dispatcher.Close)

	// Vault authority. The consensus engine's identity joins the verifier
	// allowlist so its forwarded verify_death calls pass the same check as a
	// human verifier.
	engineID, err := id.ParseUserID(cfg.Consensus.EngineID)
	if err != nil {
		return nil, fmt.Errorf("consensus engine id: %w", err)
	}
	verifierIDs := []id.UserID{engineID}
	for _, raw := range cfg.VerifierIDs {
		v, err := id.ParseUserID(raw)
		if err != nil {
			return nil, fmt.Errorf("verifier id %q: %w", raw, err)
		}
		verifierIDs = append(verifierIDs, v)
	}

	var vaults vaultservice.Store = vaultstore.NewInMemory()
	var recoveries recoveryservice.Store = recoverystore.NewInMemory()
	if inf.db != nil {
		vaults = vaultstore.NewPostgres(inf.db)
		recoveries = recoverystore.NewPostgres(inf.db)
	}
	// A vault reaching triggered requeues its subject so evidence already
	// waiting on it is forwarded without waiting for the recheck.
	consensusQueue := consensusservice.NewQueue()
	vaultSvc := vaultservice.New(vaults,
		vaultservice.WithLogger(log),
		vaultservice.WithComplianceAuditor(compliancePub),
		vaultservice.WithSecurityAuditor(securityPub),
		vaultservice.WithOpsTracker(opsTracker),
		vaultservice.WithNotifier(dispatcher),
		vaultservice.WithMetrics(vaultmetrics.New()),
		vaultservice.WithTx(tx),
		vaultservice.WithVerifierAuthority(vaultservice.NewRoleVerifier(verifierIDs...)),
		vaultservice.WithPolicy(vaultmodels.Policy{
			AttestationCooldown: cfg.Vault.AttestationCooldown,
			EmergencyWindow:     cfg.Vault.EmergencyWindow,
			VerificationDelay:   cfg.Vault.VerificationDelay,
		}),
		vaultservice.WithTriggerListener(func(_ context.Context, subject id.SubjectID) {
			consensusQueue.Push(subject)
		}),
	)

	recoverySvc := recoveryservice.New(recoveries,
		recoveryservice.WithLogger(log),
		recoveryservice.WithComplianceAuditor(compliancePub),
		recoveryservice.WithOpsTracker(opsTracker),
		recoveryservice.WithNotifier(dispatcher),
		recoveryservice.WithMetrics(recoverymetrics.New()),
		recoveryservice.WithTx(tx),
		recoveryservice.WithPolicy(recoverymodels.Policy{
			AttestationCooldown: cfg.Vault.AttestationCooldown,
			Timelock:            cfg.Recovery.Timelock,
		}),
	)

	engine, processor, err := buildConsensus(ctx, cfg, log, app, inf, vaultSvc, consensusQueue, engineID, securityPub, opsTracker)
	if err != nil {
		return nil, err
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience,
		jwttoken.WithLeeway(cfg.JWTLeeway))
	app.Router = httptransport.NewRouter(httptransport.Deps{
		Logger:        log,
		Metrics:       m,
		Validator:     jwttoken.NewJWTServiceAdapter(jwtService),
		OperatorToken: cfg.OperatorToken,
		Timeout:       cfg.RequestTimeout,
		Handlers: []httptransport.Registrar{
			vaulthandler.New(vaultSvc, log),
			recoveryhandler.New(recoverySvc, log),
			consensushandler.New(engine, log),
			httptransport.NewAuditHandler(trail, log),
		},
		Operator: []httptransport.Registrar{
			consensushandler.NewOperator(processor, engine, log),
		},
		Health: health,
	})
	return app, nil
}

// connect opens the configured backing services and registers their
// readiness checks. Unconfigured services stay nil.
func connect(ctx context.Context, cfg config.Server, log *slog.Logger, app *application, health *httptransport.Health) (*infra, error) {
	inf := &infra{}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		app.onClose(db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		health.Add("postgres", db.PingContext)
		inf.db = db
		log.Info("postgres connected")
	}

	rc, err := vigilredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		app.onClose(rc.Close)
		health.Add("redis", rc.Health)
		inf.redis = rc
		log.Info("redis connected")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		topics := []string{cfg.Kafka.NotificationTopic, auditpg.TopicCompliance, auditpg.TopicSecurity, auditpg.TopicOps}
		if err := admin.EnsureTopics(ctx, cfg.Kafka.Brokers, 3, 1, topics...); err != nil {
			return nil, err
		}
		p, err := producer.New(cfg.Kafka.Brokers, log)
		if err != nil {
			return nil, err
		}
		app.onClose(func() error { p.Close(); return nil })
		health.Add("kafka", p.Health)
		inf.producer = p
		log.Info("kafka connected", "brokers", cfg.Kafka.Brokers)

		if db != nil {
			relay := outbox.NewRelay(db, p, log,
				outbox.WithMetrics(outbox.NewMetrics()),
				outbox.WithInterval(cfg.Kafka.OutboxPollInterval),
				outbox.WithBatchSize(cfg.Kafka.OutboxBatchSize),
			)
			app.Background = append(app.Background, relay.Run)

			router := auditconsumer.NewAuditRouter(auditpg.New(db), log)
			c, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, router.Topics(), router, log)
			if err != nil {
				return nil, err
			}
			app.onClose(func() error { c.Close(); return nil })
			app.Background = append(app.Background, func(ctx context.Context) {
				if err := c.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("audit consumer stopped", "error", err)
				}
			})
		}
	}
	return inf, nil
}

// buildConsensus wires the death consensus engine, its batch processor and
// the external evidence sources.
func buildConsensus(
	ctx context.Context,
	cfg config.Server,
	log *slog.Logger,
	app *application,
	inf *infra,
	vaultSvc *vaultservice.Service,
	queue *consensusservice.Queue,
	engineID id.UserID,
	securityPub *security.Publisher,
	opsTracker *ops.Tracker,
) (*consensusservice.Service, *consensusservice.Processor, error) {
	var events consensusservice.EventLog = eventlog.NewInMemory()
	if cfg.Pebble.Path != "" {
		pl, err := eventlog.OpenPebble(cfg.Pebble.Path)
		if err != nil {
			return nil, nil, err
		}
		app.onClose(pl.Close)
		events = pl
		log.Info("verification event log opened", "path", cfg.Pebble.Path)
	}

	var cache consensusservice.StateCache = statecache.NewInMemory()
	if inf.redis != nil {
		cache = statecache.NewRedis(inf.redis.Client, cfg.Redis.StateTTL,
			statecache.WithKeyPrefix(inf.redis.Key("consensus", "state")))
	}

	cm := consensusmetrics.New()
	client := &http.Client{Timeout: cfg.Sources.RequestTimeout}
	guard := func(name string) *sources.Guard {
		return sources.NewGuard(name, circuit.New(name,
			circuit.WithFailureThreshold(cfg.Sources.BreakerFailures),
			circuit.WithCooldown(cfg.Sources.BreakerCooldown),
		), cm)
	}

	opts := []consensusservice.Option{
		consensusservice.WithLogger(log),
		consensusservice.WithQueue(queue),
		consensusservice.WithSecurityAuditor(securityPub),
		consensusservice.WithOpsTracker(opsTracker),
		consensusservice.WithMetrics(cm),
	}
	if cfg.Sources.CertificateURL != "" {
		opts = append(opts, consensusservice.WithCertificateOrderer(adapters.NewHTTPCertificateOrderer(
			cfg.Sources.CertificateURL, cfg.Sources.CertificateCallbackURL, client, guard("certificate-vendor"),
		)))
	}
	verifier := adapters.NewVaultAdapter(vaultSvc, engineID, id.RoleVerifier)
	engine := consensusservice.New(events, cache, verifier, opts...)

	// Subjects with unapplied state from a previous run are evaluated again.
	n, err := engine.Recover(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("recover consensus queue: %w", err)
	}
	log.Info("consensus queue recovered", "subjects", n)

	processor := consensusservice.NewProcessor(engine, engine.Queue(), log,
		consensusservice.WithInterval(cfg.Consensus.BatchInterval),
		consensusservice.WithBatchSize(cfg.Consensus.BatchSize),
		consensusservice.WithConcurrency(cfg.Consensus.Concurrency),
		consensusservice.WithRetryBudget(cfg.Consensus.RetryBudget),
		consensusservice.WithWaitRecheck(cfg.Consensus.WaitRecheck),
		consensusservice.WithProcessorMetrics(cm),
		consensusservice.WithEscalationAuditor(securityPub),
	)
	app.Background = append(app.Background, processor.Run)

	if cfg.Sources.RegistryURL != "" {
		registry := sources.NewRegistryPoller(cfg.Sources.RegistryURL, cfg.Sources.RegistryAPIKey, client, guard("death-registry"), engine, log)
		app.Background = append(app.Background, func(ctx context.Context) {
			sources.RunPoller(ctx, "death-registry", cfg.Consensus.PollInterval, log, registry.Poll)
		})
	}
	if cfg.Sources.ObituaryFeedURL != "" {
		feed := sources.NewObituaryFeedPoller(cfg.Sources.ObituaryFeedURL, client, guard("obituary-feed"),
			sources.NewObituaryMatcher(engine, log))
		app.Background = append(app.Background, func(ctx context.Context) {
			sources.RunPoller(ctx, "obituary-feed", cfg.Consensus.PollInterval, log, feed.Poll)
		})
	}
	return engine, processor, nil
}
