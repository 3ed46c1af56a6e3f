package models

import (
	"bytes"
	"slices"
	"time"

	"vigil/internal/attestation"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Status is the recovery lifecycle state: pending -> triggered -> completed.
// There is no way back.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTriggered Status = "triggered"
	StatusCompleted Status = "completed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusTriggered, StatusCompleted:
		return true
	}
	return false
}

const (
	DefaultTimelock = 7 * 24 * time.Hour
	MaxPayloadBytes = 64 << 10
)

// Policy holds the recovery time gates.
type Policy struct {
	AttestationCooldown time.Duration
	Timelock            time.Duration
}

func DefaultPolicy() Policy {
	return Policy{AttestationCooldown: attestation.DefaultCooldown, Timelock: DefaultTimelock}
}

// Recovery is a wallet-key recovery guarded by three recovery keys.
// Two key attestations trigger it; after the timelock any key may complete
// it and receive the encrypted payload.
type Recovery struct {
	ID           id.RecoveryID
	WalletID     id.WalletID
	OwnerID      id.UserID
	Keys         []id.UserID
	Payload      []byte
	Status       Status
	TriggeredAt  *time.Time
	CompletedAt  *time.Time
	CompletedBy  id.UserID
	Attestations *attestation.Ledger
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type NewRecoveryParams struct {
	ID       id.RecoveryID
	WalletID id.WalletID
	OwnerID  id.UserID
	Keys     []id.UserID
	Payload  []byte
}

func NewRecovery(p NewRecoveryParams, now time.Time) (*Recovery, error) {
	if p.ID.IsNil() || p.WalletID.IsNil() || p.OwnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "recovery, wallet and owner ids are required")
	}
	if err := attestation.ValidateMembers(p.Keys); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "recovery keys: "+err.Error())
	}
	if slices.Contains(p.Keys, p.OwnerID) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "owner cannot hold a recovery key")
	}
	if len(p.Payload) == 0 || len(p.Payload) > MaxPayloadBytes {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "payload must be between 1 byte and 64KiB")
	}
	return &Recovery{
		ID:           p.ID,
		WalletID:     p.WalletID,
		OwnerID:      p.OwnerID,
		Keys:         slices.Clone(p.Keys),
		Payload:      bytes.Clone(p.Payload),
		Status:       StatusPending,
		Attestations: attestation.New(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *Recovery) IsKey(user id.UserID) bool { return slices.Contains(r.Keys, user) }

// UnlockAt is when completion becomes possible. Zero until triggered.
func (r *Recovery) UnlockAt(p Policy) time.Time {
	if r.TriggeredAt == nil {
		return time.Time{}
	}
	return r.TriggeredAt.Add(p.Timelock)
}

// CanAttest checks key membership, state, cooldown and duplicates in that order.
func (r *Recovery) CanAttest(key id.UserID, now time.Time, p Policy) error {
	if !r.IsKey(key) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller does not hold a recovery key")
	}
	if r.Status == StatusCompleted {
		return dErrors.New(dErrors.CodeAlreadyCompleted, "recovery has already completed")
	}
	return r.Attestations.CanAttest(r.Keys, key, now, p.AttestationCooldown)
}

// ApplyAttest records the attestation and reports whether it triggered.
func (r *Recovery) ApplyAttest(key id.UserID, now time.Time) bool {
	r.Attestations.ApplyAttest(key, now)
	r.UpdatedAt = now
	if r.Status == StatusPending && r.Attestations.HasQuorum() {
		at := now
		r.TriggeredAt = &at
		r.Status = StatusTriggered
		return true
	}
	return false
}

// CanComplete checks key membership, replay, state and the timelock in that
// order. The timelock is inclusive of its end instant.
func (r *Recovery) CanComplete(key id.UserID, now time.Time, p Policy) error {
	if !r.IsKey(key) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller does not hold a recovery key")
	}
	switch r.Status {
	case StatusCompleted:
		return dErrors.New(dErrors.CodeAlreadyCompleted, "recovery has already completed")
	case StatusPending:
		return dErrors.New(dErrors.CodeInvalidState, "recovery has not been triggered")
	}
	if now.Before(r.UnlockAt(p)) {
		return dErrors.New(dErrors.CodeTimelockNotExpired, "recovery timelock has not expired")
	}
	return nil
}

// ApplyComplete finishes the recovery and returns a copy of the payload.
func (r *Recovery) ApplyComplete(key id.UserID, now time.Time) []byte {
	at := now
	r.CompletedAt = &at
	r.CompletedBy = key
	r.Status = StatusCompleted
	r.UpdatedAt = now
	return bytes.Clone(r.Payload)
}

func (r *Recovery) Clone() *Recovery {
	c := *r
	c.Keys = slices.Clone(r.Keys)
	c.Payload = bytes.Clone(r.Payload)
	if r.TriggeredAt != nil {
		t := *r.TriggeredAt
		c.TriggeredAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	c.Attestations = r.Attestations.Clone()
	return &c
}
