package models

import (
	"slices"
	"strings"
	"time"

	"vigil/internal/attestation"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Policy holds the wall-clock gates the state machine evaluates lazily.
type Policy struct {
	AttestationCooldown time.Duration
	EmergencyWindow     time.Duration
	VerificationDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		AttestationCooldown: attestation.DefaultCooldown,
		EmergencyWindow:     7 * 24 * time.Hour,
		VerificationDelay:   7 * 24 * time.Hour,
	}
}

// Verification records the oracle's death confirmation.
type Verification struct {
	SubjectID  id.SubjectID `json:"subject_id"`
	VerifierID id.UserID    `json:"verifier_id"`
	VerifiedAt time.Time    `json:"verified_at"`
}

// ClaimRecord records the single successful claim.
type ClaimRecord struct {
	BeneficiaryID id.UserID `json:"beneficiary_id"`
	ClaimedAt     time.Time `json:"claimed_at"`
}

// Vault is the aggregate root of the release authority.
//
// Invariants:
//   - exactly three distinct guardians, at least one beneficiary
//   - owner, guardians and beneficiaries are pairwise disjoint
//   - status moves forward except for the owner's bounded revoke
//   - Claimed is terminal and reached through exactly one claim
//
// Time-based transitions are not scheduled. Advance applies them from the
// stored timestamps and the caller's clock on the next touching call.
type Vault struct {
	ID             id.VaultID
	OwnerID        id.UserID
	SubjectID      id.SubjectID
	Beneficiaries  []id.UserID
	Guardians      []id.UserID
	MetadataURI    string
	SecretDigest   string
	Scheme         string
	CheckInEvery   time.Duration
	GracePeriod    time.Duration
	Status         Status
	LastCheckIn    time.Time
	CheckInChannel CheckInChannel
	TriggeredAt    *time.Time
	TriggerReason  string
	Verification   *Verification
	Claim          *ClaimRecord
	Attestations   *attestation.Ledger
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewVaultParams carries the owner's setup choices.
type NewVaultParams struct {
	ID            id.VaultID
	OwnerID       id.UserID
	SubjectID     id.SubjectID
	Beneficiaries []id.UserID
	Guardians     []id.UserID
	MetadataURI   string
	SecretDigest  string
	Scheme        string
	CheckInEvery  time.Duration
	GracePeriod   time.Duration
}

func NewVault(p NewVaultParams, now time.Time) (*Vault, error) {
	if p.ID.IsNil() || p.OwnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "vault and owner ids are required")
	}
	if err := attestation.ValidateMembers(p.Guardians); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "guardians: "+err.Error())
	}
	if len(p.Beneficiaries) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "at least one beneficiary is required")
	}
	if err := checkDisjoint(p.OwnerID, p.Guardians, p.Beneficiaries); err != nil {
		return nil, err
	}
	if p.CheckInEvery <= 0 || p.GracePeriod <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "check-in interval and grace period must be positive")
	}
	if strings.TrimSpace(p.MetadataURI) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "metadata uri is required")
	}
	subject := p.SubjectID
	if subject.IsNil() {
		subject = id.SubjectID(p.OwnerID)
	}
	return &Vault{
		ID:             p.ID,
		OwnerID:        p.OwnerID,
		SubjectID:      subject,
		Beneficiaries:  slices.Clone(p.Beneficiaries),
		Guardians:      slices.Clone(p.Guardians),
		MetadataURI:    p.MetadataURI,
		SecretDigest:   p.SecretDigest,
		Scheme:         p.Scheme,
		CheckInEvery:   p.CheckInEvery,
		GracePeriod:    p.GracePeriod,
		Status:         StatusActive,
		LastCheckIn:    now,
		CheckInChannel: ChannelUnknown,
		Attestations:   attestation.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func checkDisjoint(owner id.UserID, guardians, beneficiaries []id.UserID) error {
	seen := map[id.UserID]struct{}{owner: {}}
	for _, g := range guardians {
		if _, dup := seen[g]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, "guardians must differ from the owner")
		}
		seen[g] = struct{}{}
	}
	benSeen := make(map[id.UserID]struct{}, len(beneficiaries))
	for _, b := range beneficiaries {
		if b.IsNil() {
			return dErrors.New(dErrors.CodeInvariantViolation, "beneficiary id must not be empty")
		}
		if _, dup := seen[b]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, "beneficiaries must differ from the owner and guardians")
		}
		if _, dup := benSeen[b]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, "beneficiaries must be distinct")
		}
		benSeen[b] = struct{}{}
	}
	return nil
}

func (v *Vault) IsOwner(user id.UserID) bool       { return v.OwnerID == user }
func (v *Vault) IsGuardian(user id.UserID) bool    { return slices.Contains(v.Guardians, user) }
func (v *Vault) IsBeneficiary(user id.UserID) bool { return slices.Contains(v.Beneficiaries, user) }
func (v *Vault) AttestationCount() int             { return v.Attestations.Count() }

// WarningAt is when inactivity moves the vault to warning.
func (v *Vault) WarningAt() time.Time {
	return v.LastCheckIn.Add(v.CheckInEvery)
}

// InactivityDeadline is when inactivity triggers the vault.
func (v *Vault) InactivityDeadline() time.Time {
	return v.WarningAt().Add(v.GracePeriod)
}

// RevokeDeadline is the end of the emergency window, or zero when the vault
// is not triggered.
func (v *Vault) RevokeDeadline(p Policy) time.Time {
	if v.TriggeredAt == nil {
		return time.Time{}
	}
	return v.TriggeredAt.Add(p.EmergencyWindow)
}

// ClaimableAt is when a verified vault becomes ready for claim.
func (v *Vault) ClaimableAt(p Policy) time.Time {
	if v.Verification == nil {
		return time.Time{}
	}
	return v.Verification.VerifiedAt.Add(p.VerificationDelay)
}

func (v *Vault) withinWindow(now time.Time, p Policy) bool {
	return v.TriggeredAt != nil && !now.After(v.RevokeDeadline(p))
}

// Transition is one status edge taken by an operation.
type Transition struct {
	From   Status
	To     Status
	Reason string
	At     time.Time
}

func (v *Vault) moveTo(to Status, reason string, at time.Time) Transition {
	t := Transition{From: v.Status, To: to, Reason: reason, At: at}
	v.Status = to
	v.UpdatedAt = at
	return t
}

// Advance applies every time-based transition due at now.
func (v *Vault) Advance(now time.Time, p Policy) []Transition {
	var out []Transition
	if v.Status.IsPreTrigger() {
		switch {
		case !now.Before(v.InactivityDeadline()):
			at := v.InactivityDeadline()
			v.TriggeredAt = &at
			v.TriggerReason = ReasonInactivity
			out = append(out, v.moveTo(StatusTriggered, ReasonInactivity, now))
		case v.Status == StatusActive && !now.Before(v.WarningAt()):
			out = append(out, v.moveTo(StatusWarning, ReasonInactivityWarn, now))
		}
	}
	if v.Status == StatusDeathVerified && !now.Before(v.ClaimableAt(p)) {
		out = append(out, v.moveTo(StatusReadyForClaim, ReasonDelayElapsed, now))
	}
	return out
}

// EffectiveStatus is the status Advance would produce, without mutating.
func (v *Vault) EffectiveStatus(now time.Time, p Policy) Status {
	probe := *v
	probe.Advance(now, p)
	return probe.Status
}

// CanCheckIn validates an owner check-in against the effective status.
func (v *Vault) CanCheckIn(caller id.UserID, now time.Time, p Policy) error {
	if !v.IsOwner(caller) {
		return dErrors.New(dErrors.CodeUnauthorized, "only the owner can check in")
	}
	if v.EffectiveStatus(now, p).IsLocked() {
		return dErrors.New(dErrors.CodeVaultLocked, "vault is locked after death verification")
	}
	return nil
}

// ApplyCheckIn resets the inactivity clock and clears attestations. A
// triggered vault returns to active only inside the emergency window.
func (v *Vault) ApplyCheckIn(now time.Time, channel CheckInChannel, p Policy) []Transition {
	out := v.Advance(now, p)
	v.LastCheckIn = now
	v.CheckInChannel = channel
	v.Attestations.Clear()
	v.UpdatedAt = now

	switch {
	case v.Status == StatusWarning:
		out = append(out, v.moveTo(StatusActive, ReasonCheckIn, now))
	case v.Status == StatusTriggered && v.withinWindow(now, p):
		v.TriggeredAt = nil
		v.TriggerReason = ""
		out = append(out, v.moveTo(StatusActive, ReasonCheckIn, now))
	}
	return out
}

// CanAttest validates a guardian attestation. Checks run in order:
// guardian membership, vault state, cooldown, duplicate.
func (v *Vault) CanAttest(guardian id.UserID, now time.Time, p Policy) error {
	if !v.IsGuardian(guardian) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not a guardian of this vault")
	}
	if v.EffectiveStatus(now, p).IsLocked() {
		return dErrors.New(dErrors.CodeInvalidState, "attestations are closed after death verification")
	}
	return v.Attestations.CanAttest(v.Guardians, guardian, now, p.AttestationCooldown)
}

// ApplyAttest records the attestation and triggers on quorum.
func (v *Vault) ApplyAttest(guardian id.UserID, now time.Time, p Policy) []Transition {
	out := v.Advance(now, p)
	v.Attestations.ApplyAttest(guardian, now)
	v.UpdatedAt = now
	if v.Status.IsPreTrigger() && v.Attestations.HasQuorum() {
		at := now
		v.TriggeredAt = &at
		v.TriggerReason = ReasonGuardianQuorum
		out = append(out, v.moveTo(StatusTriggered, ReasonGuardianQuorum, now))
	}
	return out
}

// CanVerifyDeath validates an oracle verification. Caller authority is
// checked by the service; the vault checks subject, replay and state.
func (v *Vault) CanVerifyDeath(subject id.SubjectID, now time.Time, p Policy) error {
	if subject != v.SubjectID {
		return dErrors.New(dErrors.CodeInvalidInput, "subject does not match vault")
	}
	if v.Verification != nil {
		return dErrors.New(dErrors.CodeAlreadyVerified, "death already verified for this subject")
	}
	if v.EffectiveStatus(now, p) != StatusTriggered {
		return dErrors.New(dErrors.CodeInvalidState, "death can only be verified on a triggered vault")
	}
	return nil
}

func (v *Vault) ApplyVerifyDeath(subject id.SubjectID, verifier id.UserID, now time.Time, p Policy) []Transition {
	out := v.Advance(now, p)
	v.Verification = &Verification{SubjectID: subject, VerifierID: verifier, VerifiedAt: now}
	out = append(out, v.moveTo(StatusDeathVerified, ReasonDeathVerified, now))
	return append(out, v.Advance(now, p)...)
}

// CanClaim validates a beneficiary claim. Checks run in order: membership,
// replay, readiness.
func (v *Vault) CanClaim(beneficiary id.UserID, now time.Time, p Policy) error {
	if !v.IsBeneficiary(beneficiary) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not a beneficiary of this vault")
	}
	switch v.EffectiveStatus(now, p) {
	case StatusClaimed:
		return dErrors.New(dErrors.CodeAlreadyClaimed, "vault has already been claimed")
	case StatusReadyForClaim:
		return nil
	default:
		return dErrors.New(dErrors.CodeNotReady, "vault is not ready for claim")
	}
}

func (v *Vault) ApplyClaim(beneficiary id.UserID, now time.Time, p Policy) (ReleaseDirective, []Transition) {
	out := v.Advance(now, p)
	v.Claim = &ClaimRecord{BeneficiaryID: beneficiary, ClaimedAt: now}
	out = append(out, v.moveTo(StatusClaimed, ReasonClaimed, now))
	return ReleaseDirective{
		VaultID:      v.ID,
		Beneficiary:  beneficiary,
		MetadataURI:  v.MetadataURI,
		SecretDigest: v.SecretDigest,
		Scheme:       v.Scheme,
		ClaimedAt:    now,
	}, out
}

// CanEmergencyRevoke validates the owner's revoke. Checks run in order:
// ownership, state, window.
func (v *Vault) CanEmergencyRevoke(caller id.UserID, now time.Time, p Policy) error {
	if !v.IsOwner(caller) {
		return dErrors.New(dErrors.CodeUnauthorized, "only the owner can revoke")
	}
	probe := *v
	probe.Advance(now, p)
	if probe.Status != StatusTriggered {
		return dErrors.New(dErrors.CodeInvalidState, "only a triggered vault can be revoked")
	}
	if !probe.withinWindow(now, p) {
		return dErrors.New(dErrors.CodeWindowExpired, "emergency revoke window has expired")
	}
	return nil
}

func (v *Vault) ApplyEmergencyRevoke(now time.Time, p Policy) []Transition {
	out := v.Advance(now, p)
	v.Attestations.Clear()
	v.LastCheckIn = now
	v.TriggeredAt = nil
	v.TriggerReason = ""
	return append(out, v.moveTo(StatusActive, ReasonEmergencyRevoke, now))
}

// Clone returns a deep copy safe to mutate outside a store lock.
func (v *Vault) Clone() *Vault {
	c := *v
	c.Beneficiaries = slices.Clone(v.Beneficiaries)
	c.Guardians = slices.Clone(v.Guardians)
	if v.TriggeredAt != nil {
		t := *v.TriggeredAt
		c.TriggeredAt = &t
	}
	if v.Verification != nil {
		ver := *v.Verification
		c.Verification = &ver
	}
	if v.Claim != nil {
		cl := *v.Claim
		c.Claim = &cl
	}
	c.Attestations = v.Attestations.Clone()
	return &c
}

// ReleaseDirective is the pointer handed to beneficiaries on claim. It never
// carries secret material.
type ReleaseDirective struct {
	VaultID      id.VaultID `json:"vault_id"`
	Beneficiary  id.UserID  `json:"beneficiary"`
	MetadataURI  string     `json:"metadata_uri"`
	SecretDigest string     `json:"secret_digest"`
	Scheme       string     `json:"scheme"`
	ClaimedAt    time.Time  `json:"claimed_at"`
}
