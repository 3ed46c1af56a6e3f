package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

type VaultSuite struct {
	suite.Suite
	policy      Policy
	start       time.Time
	owner       id.UserID
	guardians   []id.UserID
	beneficiary id.UserID
	vault       *Vault
}

func TestVaultSuite(t *testing.T) {
	suite.Run(t, new(VaultSuite))
}

func newUser() id.UserID { return id.UserID(uuid.New()) }

func (s *VaultSuite) SetupTest() {
	s.policy = DefaultPolicy()
	s.start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.owner = newUser()
	s.guardians = []id.UserID{newUser(), newUser(), newUser()}
	s.beneficiary = newUser()

	v, err := NewVault(NewVaultParams{
		ID:            id.NewVaultID(),
		OwnerID:       s.owner,
		Beneficiaries: []id.UserID{s.beneficiary},
		Guardians:     s.guardians,
		MetadataURI:   "ipfs://release-metadata",
		SecretDigest:  "blake3:00",
		Scheme:        "2of3",
		CheckInEvery:  30 * 24 * time.Hour,
		GracePeriod:   7 * 24 * time.Hour,
	}, s.start)
	s.Require().NoError(err)
	s.vault = v
}

func (s *VaultSuite) attest(g id.UserID, at time.Time) error {
	if err := s.vault.CanAttest(g, at, s.policy); err != nil {
		return err
	}
	s.vault.ApplyAttest(g, at, s.policy)
	return nil
}

func (s *VaultSuite) trigger(at time.Time) {
	s.Require().NoError(s.attest(s.guardians[0], at))
	s.Require().NoError(s.attest(s.guardians[1], at.Add(time.Hour)))
	s.Require().Equal(StatusTriggered, s.vault.Status)
}

func (s *VaultSuite) TestNewVaultInvariants() {
	base := NewVaultParams{
		ID:            id.NewVaultID(),
		OwnerID:       s.owner,
		Beneficiaries: []id.UserID{s.beneficiary},
		Guardians:     s.guardians,
		MetadataURI:   "ipfs://x",
		CheckInEvery:  time.Hour,
		GracePeriod:   time.Hour,
	}

	s.Run("subject defaults to owner", func() {
		v, err := NewVault(base, s.start)
		s.Require().NoError(err)
		s.Equal(id.SubjectID(s.owner), v.SubjectID)
		s.Equal(StatusActive, v.Status)
	})

	cases := map[string]func(p *NewVaultParams){
		"two guardians":            func(p *NewVaultParams) { p.Guardians = p.Guardians[:2] },
		"owner is guardian":        func(p *NewVaultParams) { p.Guardians = []id.UserID{s.owner, newUser(), newUser()} },
		"guardian is beneficiary":  func(p *NewVaultParams) { p.Beneficiaries = []id.UserID{s.guardians[0]} },
		"owner is beneficiary":     func(p *NewVaultParams) { p.Beneficiaries = []id.UserID{s.owner} },
		"no beneficiaries":         func(p *NewVaultParams) { p.Beneficiaries = nil },
		"duplicate beneficiaries":  func(p *NewVaultParams) { p.Beneficiaries = []id.UserID{s.beneficiary, s.beneficiary} },
		"zero interval":            func(p *NewVaultParams) { p.CheckInEvery = 0 },
		"missing metadata pointer": func(p *NewVaultParams) { p.MetadataURI = " " },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			p := base
			mutate(&p)
			_, err := NewVault(p, s.start)
			s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation), "got %v", err)
		})
	}
}

func (s *VaultSuite) TestQuorumThenCheckInWithinWindow() {
	s.trigger(s.start)
	s.Equal(2, s.vault.AttestationCount())

	now := s.start.Add(48 * time.Hour)
	s.Require().NoError(s.vault.CanCheckIn(s.owner, now, s.policy))
	changes := s.vault.ApplyCheckIn(now, ChannelWeb, s.policy)

	s.Equal(StatusActive, s.vault.Status)
	s.Equal(0, s.vault.AttestationCount())
	s.Nil(s.vault.TriggeredAt)
	s.Require().Len(changes, 1)
	s.Equal(StatusTriggered, changes[0].From)
	s.Equal(StatusActive, changes[0].To)
}

func (s *VaultSuite) TestCheckInAfterWindowStaysTriggered() {
	s.trigger(s.start)
	now := s.start.Add(8 * 24 * time.Hour)
	s.Require().NoError(s.vault.CanCheckIn(s.owner, now, s.policy))
	s.vault.ApplyCheckIn(now, ChannelMobile, s.policy)

	s.Equal(StatusTriggered, s.vault.Status)
	s.Equal(0, s.vault.AttestationCount())
	s.Equal(now, s.vault.LastCheckIn)
}

func (s *VaultSuite) TestCheckInRejections() {
	s.True(dErrors.HasCode(s.vault.CanCheckIn(s.guardians[0], s.start, s.policy), dErrors.CodeUnauthorized))

	s.trigger(s.start)
	now := s.start.Add(2 * time.Hour)
	s.Require().NoError(s.vault.CanVerifyDeath(s.vault.SubjectID, now, s.policy))
	s.vault.ApplyVerifyDeath(s.vault.SubjectID, newUser(), now, s.policy)

	s.True(dErrors.HasCode(s.vault.CanCheckIn(s.owner, now, s.policy), dErrors.CodeVaultLocked))
}

func (s *VaultSuite) TestInactivityIsLazy() {
	warnAt := s.vault.WarningAt()
	deadline := s.vault.InactivityDeadline()

	s.Equal(StatusActive, s.vault.EffectiveStatus(warnAt.Add(-time.Second), s.policy))
	s.Equal(StatusWarning, s.vault.EffectiveStatus(warnAt, s.policy))
	s.Equal(StatusTriggered, s.vault.EffectiveStatus(deadline, s.policy))
	s.Equal(StatusActive, s.vault.Status, "reads do not persist transitions")

	changes := s.vault.Advance(deadline.Add(time.Hour), s.policy)
	s.Require().Len(changes, 1)
	s.Equal(StatusTriggered, s.vault.Status)
	s.Equal(ReasonInactivity, s.vault.TriggerReason)
	s.Equal(deadline, *s.vault.TriggeredAt)
}

func (s *VaultSuite) TestWarningCheckInRestoresActive() {
	now := s.vault.WarningAt().Add(time.Hour)
	changes := s.vault.ApplyCheckIn(now, ChannelWeb, s.policy)
	s.Equal(StatusActive, s.vault.Status)
	s.Require().Len(changes, 2)
	s.Equal(StatusWarning, changes[0].To)
	s.Equal(StatusActive, changes[1].To)
}

func (s *VaultSuite) TestAttestationRules() {
	s.Run("non guardian", func() {
		s.True(dErrors.HasCode(s.attest(s.beneficiary, s.start), dErrors.CodeUnauthorized))
	})
	s.Run("cooldown then already attested", func() {
		s.Require().NoError(s.attest(s.guardians[2], s.start))
		s.True(dErrors.HasCode(s.attest(s.guardians[2], s.start.Add(time.Hour)), dErrors.CodeAttestationCooldown))
		s.True(dErrors.HasCode(s.attest(s.guardians[2], s.start.Add(25*time.Hour)), dErrors.CodeAlreadyAttested))
	})
}

func (s *VaultSuite) TestVerifyDeath() {
	s.Run("requires triggered", func() {
		err := s.vault.CanVerifyDeath(s.vault.SubjectID, s.start, s.policy)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.trigger(s.start)
	now := s.start.Add(3 * time.Hour)

	s.Run("subject mismatch", func() {
		err := s.vault.CanVerifyDeath(id.SubjectID(uuid.New()), now, s.policy)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Require().NoError(s.vault.CanVerifyDeath(s.vault.SubjectID, now, s.policy))
	s.vault.ApplyVerifyDeath(s.vault.SubjectID, newUser(), now, s.policy)
	s.Equal(StatusDeathVerified, s.vault.Status)

	s.Run("replay", func() {
		err := s.vault.CanVerifyDeath(s.vault.SubjectID, now.Add(time.Minute), s.policy)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyVerified))
	})
}

func (s *VaultSuite) TestClaimPath() {
	s.trigger(s.start)
	verifiedAt := s.start.Add(2 * time.Hour)
	s.vault.ApplyVerifyDeath(s.vault.SubjectID, newUser(), verifiedAt, s.policy)

	early := verifiedAt.Add(s.policy.VerificationDelay - time.Second)
	s.True(dErrors.HasCode(s.vault.CanClaim(s.beneficiary, early, s.policy), dErrors.CodeNotReady))
	s.True(dErrors.HasCode(s.vault.CanClaim(s.guardians[0], early, s.policy), dErrors.CodeUnauthorized))

	ready := verifiedAt.Add(s.policy.VerificationDelay)
	s.Require().NoError(s.vault.CanClaim(s.beneficiary, ready, s.policy))
	directive, changes := s.vault.ApplyClaim(s.beneficiary, ready, s.policy)

	s.Equal(StatusClaimed, s.vault.Status)
	s.Equal(s.vault.ID, directive.VaultID)
	s.Equal("ipfs://release-metadata", directive.MetadataURI)
	s.Equal("2of3", directive.Scheme)
	s.Require().Len(changes, 2)
	s.Equal(StatusReadyForClaim, changes[0].To)
	s.Equal(StatusClaimed, changes[1].To)

	s.True(dErrors.HasCode(s.vault.CanClaim(s.beneficiary, ready.Add(time.Hour), s.policy), dErrors.CodeAlreadyClaimed))
}

func (s *VaultSuite) TestZeroDelayIsClaimableImmediately() {
	s.policy.VerificationDelay = 0
	s.trigger(s.start)
	now := s.start.Add(2 * time.Hour)
	changes := s.vault.ApplyVerifyDeath(s.vault.SubjectID, newUser(), now, s.policy)
	s.Equal(StatusReadyForClaim, s.vault.Status)
	s.Len(changes, 2)
}

func (s *VaultSuite) TestEmergencyRevoke() {
	s.True(dErrors.HasCode(s.vault.CanEmergencyRevoke(s.owner, s.start, s.policy), dErrors.CodeInvalidState))

	s.trigger(s.start)
	triggeredAt := *s.vault.TriggeredAt

	s.True(dErrors.HasCode(s.vault.CanEmergencyRevoke(s.beneficiary, s.start, s.policy), dErrors.CodeUnauthorized))

	late := triggeredAt.Add(s.policy.EmergencyWindow + time.Second)
	s.True(dErrors.HasCode(s.vault.CanEmergencyRevoke(s.owner, late, s.policy), dErrors.CodeWindowExpired))

	inWindow := triggeredAt.Add(s.policy.EmergencyWindow)
	s.Require().NoError(s.vault.CanEmergencyRevoke(s.owner, inWindow, s.policy))
	s.vault.ApplyEmergencyRevoke(inWindow, s.policy)
	s.Equal(StatusActive, s.vault.Status)
	s.Equal(0, s.vault.AttestationCount())
}

func (s *VaultSuite) TestCloneIsDeep() {
	s.trigger(s.start)
	c := s.vault.Clone()
	c.Attestations.Clear()
	*c.TriggeredAt = time.Time{}
	c.Guardians[0] = newUser()

	s.Equal(2, s.vault.AttestationCount())
	s.False(s.vault.TriggeredAt.IsZero())
	s.Equal(s.guardians[0], s.vault.Guardians[0])
}
