// Package service runs the death consensus engine: it appends verification
// events, keeps each subject's derived state current, and forwards the
// resulting action to the vault authority or the certificate orderer.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	consensusmetrics "vigil/internal/consensus/metrics"
	"vigil/internal/consensus/models"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/requestcontext"
)

// EventLog is the append-only verification log.
type EventLog interface {
	Append(ctx context.Context, e *models.Event) (bool, error)
	Get(ctx context.Context, eventID id.EventID) (*models.Event, error)
	ListBySubject(ctx context.Context, subject id.SubjectID) ([]*models.Event, error)
	Subjects(ctx context.Context) ([]id.SubjectID, error)
}

// StateCache holds derived states. Get returns sentinel.ErrNotFound on a miss.
type StateCache interface {
	Get(ctx context.Context, subject id.SubjectID) (*models.State, error)
	Put(ctx context.Context, st *models.State) error
}

// VaultVerifier forwards verify_death to the vault authority. It returns the
// number of vaults that moved to DeathVerified; replays are not errors.
type VaultVerifier interface {
	VerifySubject(ctx context.Context, subject id.SubjectID) (int, error)
}

// CertificateOrderer requests an official death certificate for a subject.
type CertificateOrderer interface {
	OrderCertificate(ctx context.Context, subject id.SubjectID) error
}

type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type OpsTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

type serviceConfig struct {
	logger   *slog.Logger
	orderer  CertificateOrderer
	security SecurityAuditor
	ops      OpsTracker
	metrics  *consensusmetrics.Metrics
	queue    *Queue
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) { c.logger = logger }
}

func WithCertificateOrderer(o CertificateOrderer) Option {
	return func(c *serviceConfig) { c.orderer = o }
}

func WithSecurityAuditor(a SecurityAuditor) Option {
	return func(c *serviceConfig) { c.security = a }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(c *serviceConfig) { c.ops = t }
}

func WithMetrics(m *consensusmetrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

// WithQueue shares a pending queue with a processor built elsewhere.
func WithQueue(q *Queue) Option {
	return func(c *serviceConfig) { c.queue = q }
}

// Service is the consensus engine.
type Service struct {
	log      EventLog
	cache    StateCache
	verifier VaultVerifier
	orderer  CertificateOrderer
	security SecurityAuditor
	ops      OpsTracker
	metrics  *consensusmetrics.Metrics
	queue    *Queue
	locks    *subjectLocks
	rebuilds singleflight.Group
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(log EventLog, cache StateCache, verifier VaultVerifier, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.queue == nil {
		cfg.queue = NewQueue()
	}
	return &Service{
		log:      log,
		cache:    cache,
		verifier: verifier,
		orderer:  cfg.orderer,
		security: cfg.security,
		ops:      cfg.ops,
		metrics:  cfg.metrics,
		queue:    cfg.queue,
		locks:    newSubjectLocks(),
		logger:   cfg.logger,
		tracer:   otel.Tracer("vigil/internal/consensus"),
	}
}

// Queue exposes the pending subjects for the batch processor.
func (s *Service) Queue() *Queue {
	return s.queue
}

// Recover enqueues every subject in the log so actions missed before a
// restart are retried. Subjects already applied come back stale.
func (s *Service) Recover(ctx context.Context) (int, error) {
	subjects, err := s.log.Subjects(ctx)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	for _, subject := range subjects {
		s.queue.Push(subject)
	}
	s.metrics.SetPending(s.queue.Len())
	return len(subjects), nil
}

// State returns the derived consensus state, rebuilding it from the log on
// a cache miss. Concurrent misses for one subject share a single rebuild.
func (s *Service) State(ctx context.Context, subject id.SubjectID) (*models.State, error) {
	st, err := s.cache.Get(ctx, subject)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "consensus state cache read failed, rebuilding",
			"subject_id", subject.String(), "error", err)
	}
	v, err, _ := s.rebuilds.Do(subject.String(), func() (any, error) {
		events, err := s.log.ListBySubject(ctx, subject)
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		if len(events) == 0 {
			return nil, dErrors.New(dErrors.CodeNotFound, "no verification events for subject")
		}
		rebuilt := models.Rebuild(subject, events, requestcontext.Now(ctx))
		s.putState(ctx, rebuilt)
		return rebuilt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.State).Clone(), nil
}

// refresh recomputes the subject's state from the log. Callers hold the
// subject lock. Progress markers survive when the cache still has them.
func (s *Service) refresh(ctx context.Context, subject id.SubjectID) (*models.State, error) {
	events, err := s.log.ListBySubject(ctx, subject)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if len(events) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no verification events for subject")
	}
	now := requestcontext.Now(ctx)
	st, err := s.cache.Get(ctx, subject)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "consensus state cache read failed, rebuilding",
				"subject_id", subject.String(), "error", err)
		}
		return models.Rebuild(subject, events, now), nil
	}
	st.Recompute(events, now)
	return st, nil
}

// putState never fails the caller: the cache can always be rebuilt.
func (s *Service) putState(ctx context.Context, st *models.State) {
	if err := s.cache.Put(ctx, st); err != nil {
		s.logger.WarnContext(ctx, "consensus state cache write failed",
			"subject_id", st.SubjectID.String(), "error", err)
	}
}

func (s *Service) enqueue(subject id.SubjectID) {
	s.queue.Push(subject)
	s.metrics.SetPending(s.queue.Len())
}

func (s *Service) startSpan(ctx context.Context, op string, subject id.SubjectID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "consensus."+op,
		trace.WithAttributes(attribute.String("subject.id", subject.String())))
}

func finish(span trace.Span, err error) error {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	span.SetAttributes(attribute.String("error.code", string(dErrors.CodeOf(err))))
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Service) track(ctx context.Context, event audit.AuditEvent, subject id.SubjectID, decision string) {
	s.logger.InfoContext(ctx, string(event),
		"subject_id", subject.String(),
		"decision", decision,
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.ops == nil {
		return
	}
	s.ops.Track(ctx, audit.OpsEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject.String(),
		Action:    string(event),
		Decision:  decision,
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (s *Service) emitSecurity(ctx context.Context, event audit.AuditEvent, subject string, reason string, severity audit.Severity) {
	s.logger.WarnContext(ctx, string(event),
		"subject", subject,
		"reason", reason,
		"log_type", "audit",
	)
	if s.security == nil {
		return
	}
	s.security.Emit(ctx, audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject,
		Action:    string(event),
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   requestcontext.UserID(ctx).String(),
		Severity:  severity,
	})
}

func wrapStoreErr(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "verification event not found")
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "verification event already exists")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "event log failure")
}
