package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vigil/internal/notification"
	vaultmetrics "vigil/internal/vault/metrics"
	"vigil/internal/vault/models"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	txcontext "vigil/pkg/platform/tx"
)

// Store persists vaults. Execute runs validate and mutate while holding the
// vault's lock (a mutex in memory, FOR UPDATE in Postgres). validate may
// write records that must commit with the vault, such as compliance audit
// events; it sees the caller's transaction through the context.
type Store interface {
	Create(ctx context.Context, vault *models.Vault) error
	FindByID(ctx context.Context, vaultID id.VaultID) (*models.Vault, error)
	FindBySubject(ctx context.Context, subjectID id.SubjectID) ([]*models.Vault, error)
	Execute(ctx context.Context, vaultID id.VaultID, validate func(*models.Vault) error, mutate func(*models.Vault)) (*models.Vault, error)
}

type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type OpsTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

type Notifier interface {
	Notify(ctx context.Context, change notification.StatusChange)
}

// TriggerListener hears about a vault whose triggered transition committed,
// so death evidence already waiting on its subject can be forwarded again.
type TriggerListener func(ctx context.Context, subject id.SubjectID)

type serviceConfig struct {
	logger     *slog.Logger
	compliance ComplianceAuditor
	security   SecurityAuditor
	ops        OpsTracker
	notifier   Notifier
	metrics    *vaultmetrics.Metrics
	tx         txcontext.Runner
	verifiers  VerifierAuthority
	policy     models.Policy
	onTrigger  TriggerListener
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) { c.logger = logger }
}

func WithComplianceAuditor(a ComplianceAuditor) Option {
	return func(c *serviceConfig) { c.compliance = a }
}

func WithSecurityAuditor(a SecurityAuditor) Option {
	return func(c *serviceConfig) { c.security = a }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(c *serviceConfig) { c.ops = t }
}

func WithNotifier(n Notifier) Option {
	return func(c *serviceConfig) { c.notifier = n }
}

func WithMetrics(m *vaultmetrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

// WithTx sets the unit of work Execute and audit writes share.
func WithTx(tx txcontext.Runner) Option {
	return func(c *serviceConfig) { c.tx = tx }
}

func WithVerifierAuthority(v VerifierAuthority) Option {
	return func(c *serviceConfig) { c.verifiers = v }
}

func WithPolicy(p models.Policy) Option {
	return func(c *serviceConfig) { c.policy = p }
}

func WithTriggerListener(l TriggerListener) Option {
	return func(c *serviceConfig) { c.onTrigger = l }
}

// Service is the vault release authority.
type Service struct {
	store        Store
	auditEmitter *auditEmitter
	notifier     Notifier
	metrics      *vaultmetrics.Metrics
	tx           txcontext.Runner
	verifiers    VerifierAuthority
	policy       models.Policy
	onTrigger    TriggerListener
	logger       *slog.Logger
	tracer       trace.Tracer
}

func New(store Store, opts ...Option) *Service {
	cfg := &serviceConfig{policy: models.DefaultPolicy()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.tx == nil {
		cfg.tx = txcontext.NopRunner{}
	}
	if cfg.verifiers == nil {
		cfg.verifiers = NewRoleVerifier()
	}
	return &Service{
		store:        store,
		auditEmitter: newAuditEmitter(cfg.logger, cfg.compliance, cfg.security, cfg.ops),
		notifier:     cfg.notifier,
		metrics:      cfg.metrics,
		tx:           cfg.tx,
		verifiers:    cfg.verifiers,
		policy:       cfg.policy,
		onTrigger:    cfg.onTrigger,
		logger:       cfg.logger,
		tracer:       otel.Tracer("vigil/internal/vault"),
	}
}

// Policy exposes the time gates so handlers can render deadlines.
func (s *Service) Policy() models.Policy {
	return s.policy
}

func (s *Service) startSpan(ctx context.Context, op string, vaultID id.VaultID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "vault."+op,
		trace.WithAttributes(attribute.String("vault.id", vaultID.String())))
}

// finish records the outcome of op on the span and in metrics and returns
// err unchanged so authority errors reach the caller verbatim.
func (s *Service) finish(span trace.Span, op string, err error) error {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	code := string(dErrors.CodeOf(err))
	span.SetAttributes(attribute.String("error.code", code))
	span.SetStatus(codes.Error, err.Error())
	s.metrics.IncError(op, code)
	return err
}

// commitChanges publishes transitions after the write committed.
func (s *Service) commitChanges(ctx context.Context, vault *models.Vault, changes []models.Transition) {
	for _, c := range changes {
		s.metrics.IncTransition(string(c.From), string(c.To))
		s.auditEmitter.statusChanged(ctx, vault.ID, c)
		if s.notifier != nil {
			s.notifier.Notify(ctx, notification.StatusChange{
				Aggregate:   notification.AggregateVault,
				AggregateID: vault.ID.String(),
				From:        string(c.From),
				To:          string(c.To),
				Reason:      c.Reason,
				At:          c.At,
			})
		}
		if c.To == models.StatusTriggered && s.onTrigger != nil {
			s.onTrigger(ctx, vault.SubjectID)
		}
	}
}
