package service

import (
	"context"
	"log/slog"

	"vigil/internal/vault/models"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/requestcontext"
)

// auditEmitter routes vault events to the publisher matching their category
// and mirrors them to the structured log.
type auditEmitter struct {
	logger     *slog.Logger
	compliance ComplianceAuditor
	security   SecurityAuditor
	ops        OpsTracker
}

func newAuditEmitter(logger *slog.Logger, compliance ComplianceAuditor, security SecurityAuditor, ops OpsTracker) *auditEmitter {
	return &auditEmitter{logger: logger, compliance: compliance, security: security, ops: ops}
}

func (e *auditEmitter) logAudit(ctx context.Context, event audit.AuditEvent, attrs ...any) {
	if e.logger == nil {
		return
	}
	args := append(attrs,
		"event", string(event),
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
	)
	e.logger.InfoContext(ctx, string(event), args...)
}

// emitCompliance is fail-closed: the caller aborts when persistence fails.
func (e *auditEmitter) emitCompliance(ctx context.Context, event audit.AuditEvent, owner id.UserID, vaultID id.VaultID, decision string) error {
	e.logAudit(ctx, event, "vault_id", vaultID.String(), "decision", decision)
	if e.compliance == nil {
		return nil
	}
	err := e.compliance.Emit(ctx, audit.ComplianceEvent{
		Timestamp: requestcontext.Now(ctx),
		UserID:    owner,
		Subject:   vaultID.String(),
		Action:    string(event),
		Decision:  decision,
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   requestcontext.UserID(ctx).String(),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist compliance audit event")
	}
	return nil
}

func (e *auditEmitter) emitSecurity(ctx context.Context, event audit.AuditEvent, vaultID id.VaultID, reason string, severity audit.Severity) {
	e.logAudit(ctx, event, "vault_id", vaultID.String(), "reason", reason)
	if e.security == nil {
		return
	}
	e.security.Emit(ctx, audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   vaultID.String(),
		Action:    string(event),
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   requestcontext.UserID(ctx).String(),
		Severity:  severity,
	})
}

func (e *auditEmitter) track(ctx context.Context, event audit.AuditEvent, vaultID id.VaultID, decision string) {
	if e.ops == nil {
		return
	}
	e.ops.Track(ctx, audit.OpsEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   vaultID.String(),
		Action:    string(event),
		Decision:  decision,
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (e *auditEmitter) statusChanged(ctx context.Context, vaultID id.VaultID, t models.Transition) {
	e.logAudit(ctx, audit.EventVaultStatusChanged,
		"vault_id", vaultID.String(),
		"from", string(t.From),
		"to", string(t.To),
		"reason", t.Reason,
	)
	e.track(ctx, audit.EventVaultStatusChanged, vaultID, string(t.From)+"->"+string(t.To))
}
