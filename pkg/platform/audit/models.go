package audit

import (
	"time"

	id "vigil/pkg/domain"
)

// EventCategory classifies audit events by purpose. Categories map to
// separate retention policies and topics.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: vault creation,
	// death verification, release of a vault, recovery completion.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to abuse monitoring: denied
	// claims, stalled consensus escalations, emergency revocations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that may be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is the storage shape shared by every category.
type Event struct {
	ID         string
	Category   EventCategory
	Timestamp  time.Time
	UserID     id.UserID
	Subject    string
	Action     string
	Decision   string
	Reason     string
	RequestID  string
	ActorID    string
	IP         string
	Severity   Severity
}

type AuditEvent string

const (
	// Vault lifecycle
	EventVaultCreated       AuditEvent = "vault_created"
	EventVaultCheckedIn     AuditEvent = "vault_checked_in"
	EventVaultStatusChanged AuditEvent = "vault_status_changed"
	EventGuardianAttested   AuditEvent = "guardian_attested"
	EventDeathVerified      AuditEvent = "death_verified"
	EventVaultClaimed       AuditEvent = "vault_claimed"
	EventClaimDenied        AuditEvent = "claim_denied"
	EventEmergencyRevoked   AuditEvent = "emergency_revoked"

	// Wallet recovery
	EventRecoveryCreated   AuditEvent = "recovery_created"
	EventRecoveryAttested  AuditEvent = "recovery_attested"
	EventRecoveryTriggered AuditEvent = "recovery_triggered"
	EventRecoveryCompleted AuditEvent = "recovery_completed"

	// Death consensus
	EventEvidenceIngested    AuditEvent = "evidence_ingested"
	EventEvidenceDisputed    AuditEvent = "evidence_disputed"
	EventConsensusEvaluated  AuditEvent = "consensus_evaluated"
	EventCertificateOrdered  AuditEvent = "certificate_ordered"
	EventConsensusEscalated  AuditEvent = "consensus_escalated"

	// Self-service
	EventAuditTrailViewed AuditEvent = "audit_trail_viewed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVaultCreated:      CategoryCompliance,
	EventDeathVerified:     CategoryCompliance,
	EventVaultClaimed:      CategoryCompliance,
	EventRecoveryCompleted: CategoryCompliance,
	EventGuardianAttested:  CategoryCompliance,

	EventClaimDenied:        CategorySecurity,
	EventEmergencyRevoked:   CategorySecurity,
	EventConsensusEscalated: CategorySecurity,
	EventEvidenceDisputed:   CategorySecurity,

	EventVaultCheckedIn:     CategoryOperations,
	EventVaultStatusChanged: CategoryOperations,
	EventRecoveryCreated:    CategoryOperations,
	EventRecoveryAttested:   CategoryOperations,
	EventRecoveryTriggered:  CategoryOperations,
	EventEvidenceIngested:   CategoryOperations,
	EventConsensusEvaluated: CategoryOperations,
	EventCertificateOrdered: CategoryOperations,
	EventAuditTrailViewed:   CategoryOperations,
}

// Category returns the category for this event. Unknown events are operations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// -----------------------------------------------------------------------------
// Right-sized event types, one per publisher
// -----------------------------------------------------------------------------

// ComplianceEvent must be persisted before the operation that caused it is
// reported as successful.
type ComplianceEvent struct {
	Timestamp time.Time
	UserID    id.UserID // the account owner affected (required)
	Subject   string    // vault, wallet or subject id
	Action    string
	Decision  string
	RequestID string
	ActorID   string
}

func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		Subject:   e.Subject,
		Action:    e.Action,
		Decision:  e.Decision,
		RequestID: e.RequestID,
		ActorID:   e.ActorID,
	}
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is buffered and delivered asynchronously.
type SecurityEvent struct {
	Timestamp time.Time
	Subject   string
	Action    string
	Reason    string
	IP        string
	RequestID string
	ActorID   string
	Severity  Severity
}

func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		Subject:   e.Subject,
		Action:    e.Action,
		Reason:    e.Reason,
		IP:        e.IP,
		RequestID: e.RequestID,
		ActorID:   e.ActorID,
		Severity:  e.Severity,
	}
}

// OpsEvent is fire-and-forget and may be sampled.
type OpsEvent struct {
	Timestamp time.Time
	Subject   string
	Action    string
	Decision  string
	RequestID string
}

func (e OpsEvent) Category() EventCategory { return CategoryOperations }

func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:  CategoryOperations,
		Timestamp: e.Timestamp,
		Subject:   e.Subject,
		Action:    e.Action,
		Decision:  e.Decision,
		RequestID: e.RequestID,
	}
}
