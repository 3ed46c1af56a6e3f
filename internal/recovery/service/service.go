package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vigil/internal/notification"
	recoverymetrics "vigil/internal/recovery/metrics"
	"vigil/internal/recovery/models"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/sentinel"
	txcontext "vigil/pkg/platform/tx"
	"vigil/pkg/requestcontext"
)

// Store persists recoveries with the same locking contract as the vault
// store: validate and mutate run under the row lock.
type Store interface {
	Create(ctx context.Context, r *models.Recovery) error
	FindByID(ctx context.Context, recoveryID id.RecoveryID) (*models.Recovery, error)
	Execute(ctx context.Context, recoveryID id.RecoveryID, validate func(*models.Recovery) error, mutate func(*models.Recovery)) (*models.Recovery, error)
}

type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type OpsTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

type Notifier interface {
	Notify(ctx context.Context, change notification.StatusChange)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithComplianceAuditor(a ComplianceAuditor) Option {
	return func(s *Service) { s.compliance = a }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(s *Service) { s.ops = t }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *recoverymetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTx(tx txcontext.Runner) Option {
	return func(s *Service) { s.tx = tx }
}

func WithPolicy(p models.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// Service is the multi-sig wallet recovery machine.
type Service struct {
	store      Store
	compliance ComplianceAuditor
	ops        OpsTracker
	notifier   Notifier
	metrics    *recoverymetrics.Metrics
	tx         txcontext.Runner
	policy     models.Policy
	logger     *slog.Logger
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tx:     txcontext.NopRunner{},
		policy: models.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() models.Policy {
	return s.policy
}

type CreateRecoveryCommand struct {
	WalletID id.WalletID
	Keys     []id.UserID
	Payload  []byte
}

// View is a recovery as shown to its owner and key holders. The payload is
// only ever returned by CompleteRecovery.
type View struct {
	Recovery *models.Recovery
	UnlockAt time.Time
}

func (s *Service) CreateRecovery(ctx context.Context, cmd CreateRecoveryCommand) (*models.Recovery, error) {
	owner := requestcontext.UserID(ctx)
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	now := requestcontext.Now(ctx)
	r, err := models.NewRecovery(models.NewRecoveryParams{
		ID:       id.NewRecoveryID(),
		WalletID: cmd.WalletID,
		OwnerID:  owner,
		Keys:     cmd.Keys,
		Payload:  cmd.Payload,
	}, now)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, err.Error())
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create recovery")
	}
	s.metrics.IncCreated()
	s.track(ctx, audit.EventRecoveryCreated, r.ID, "created")
	return r, nil
}

func (s *Service) GetRecovery(ctx context.Context, recoveryID id.RecoveryID) (*View, error) {
	r, err := s.store.FindByID(ctx, recoveryID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	caller := requestcontext.UserID(ctx)
	if caller != r.OwnerID && !r.IsKey(caller) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is not a party to this recovery")
	}
	r.Payload = nil
	return &View{Recovery: r, UnlockAt: r.UnlockAt(s.policy)}, nil
}

// AttestRecovery records a key holder's attestation; the second distinct
// key triggers the timelock.
func (s *Service) AttestRecovery(ctx context.Context, recoveryID id.RecoveryID) (*View, error) {
	key := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)
	var triggered bool

	r, err := s.store.Execute(ctx, recoveryID,
		func(r *models.Recovery) error { return r.CanAttest(key, now, s.policy) },
		func(r *models.Recovery) { triggered = r.ApplyAttest(key, now) },
	)
	if err != nil {
		err = wrapStoreErr(err)
		s.metrics.IncRejected("attest", string(dErrors.CodeOf(err)))
		return nil, err
	}

	s.track(ctx, audit.EventRecoveryAttested, recoveryID, key.String())
	if triggered {
		s.metrics.IncTriggered()
		s.track(ctx, audit.EventRecoveryTriggered, recoveryID, "triggered")
		s.notify(ctx, recoveryID, models.StatusPending, models.StatusTriggered, "key_quorum", now)
	}
	r.Payload = nil
	return &View{Recovery: r, UnlockAt: r.UnlockAt(s.policy)}, nil
}

// CompleteRecovery releases the encrypted payload once the timelock has
// passed. The compliance record commits with the status change or not at all.
func (s *Service) CompleteRecovery(ctx context.Context, recoveryID id.RecoveryID) ([]byte, error) {
	key := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)
	var payload []byte

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := s.store.Execute(txCtx, recoveryID,
			func(r *models.Recovery) error {
				if err := r.CanComplete(key, now, s.policy); err != nil {
					return err
				}
				return s.emitCompliance(txCtx, r)
			},
			func(r *models.Recovery) { payload = r.ApplyComplete(key, now) },
		)
		return err
	})
	if err != nil {
		err = wrapStoreErr(err)
		s.metrics.IncRejected("complete", string(dErrors.CodeOf(err)))
		return nil, err
	}

	s.metrics.IncCompleted()
	s.notify(ctx, recoveryID, models.StatusTriggered, models.StatusCompleted, "timelock_elapsed", now)
	return payload, nil
}

func (s *Service) emitCompliance(ctx context.Context, r *models.Recovery) error {
	s.logger.InfoContext(ctx, string(audit.EventRecoveryCompleted),
		"event", string(audit.EventRecoveryCompleted),
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"recovery_id", r.ID.String(),
		"wallet_id", r.WalletID.String(),
	)
	if s.compliance == nil {
		return nil
	}
	err := s.compliance.Emit(ctx, audit.ComplianceEvent{
		Timestamp: requestcontext.Now(ctx),
		UserID:    r.OwnerID,
		Subject:   r.ID.String(),
		Action:    string(audit.EventRecoveryCompleted),
		Decision:  "released",
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   requestcontext.UserID(ctx).String(),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist compliance audit event")
	}
	return nil
}

func (s *Service) track(ctx context.Context, event audit.AuditEvent, recoveryID id.RecoveryID, decision string) {
	if s.ops == nil {
		return
	}
	s.ops.Track(ctx, audit.OpsEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   recoveryID.String(),
		Action:    string(event),
		Decision:  decision,
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (s *Service) notify(ctx context.Context, recoveryID id.RecoveryID, from, to models.Status, reason string, at time.Time) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notification.StatusChange{
		Aggregate:   notification.AggregateRecovery,
		AggregateID: recoveryID.String(),
		From:        string(from),
		To:          string(to),
		Reason:      reason,
		At:          at,
	})
}

func wrapStoreErr(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "recovery not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "recovery store failure")
}
