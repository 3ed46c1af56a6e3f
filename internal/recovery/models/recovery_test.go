package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

type RecoverySuite struct {
	suite.Suite
	r      *Recovery
	keys   []id.UserID
	policy Policy
	now    time.Time
}

func TestRecoverySuite(t *testing.T) {
	suite.Run(t, new(RecoverySuite))
}

func (s *RecoverySuite) SetupTest() {
	s.keys = []id.UserID{id.UserID(uuid.New()), id.UserID(uuid.New()), id.UserID(uuid.New())}
	s.policy = DefaultPolicy()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var err error
	s.r, err = NewRecovery(NewRecoveryParams{
		ID:       id.NewRecoveryID(),
		WalletID: id.WalletID(uuid.New()),
		OwnerID:  id.UserID(uuid.New()),
		Keys:     s.keys,
		Payload:  []byte("encrypted-seed"),
	}, s.now)
	s.Require().NoError(err)
}

func (s *RecoverySuite) attest(key id.UserID, at time.Time) (bool, error) {
	if err := s.r.CanAttest(key, at, s.policy); err != nil {
		return false, err
	}
	return s.r.ApplyAttest(key, at), nil
}

func (s *RecoverySuite) TestNewRecoveryInvariants() {
	owner := id.UserID(uuid.New())
	_, err := NewRecovery(NewRecoveryParams{
		ID: id.NewRecoveryID(), WalletID: id.WalletID(uuid.New()), OwnerID: owner,
		Keys: []id.UserID{owner, s.keys[0], s.keys[1]}, Payload: []byte("x"),
	}, s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewRecovery(NewRecoveryParams{
		ID: id.NewRecoveryID(), WalletID: id.WalletID(uuid.New()), OwnerID: owner,
		Keys: s.keys[:2], Payload: []byte("x"),
	}, s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewRecovery(NewRecoveryParams{
		ID: id.NewRecoveryID(), WalletID: id.WalletID(uuid.New()), OwnerID: owner,
		Keys: s.keys,
	}, s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *RecoverySuite) TestQuorumTriggers() {
	triggered, err := s.attest(s.keys[0], s.now)
	s.Require().NoError(err)
	s.False(triggered)
	s.Equal(StatusPending, s.r.Status)

	_, err = s.attest(s.keys[0], s.now.Add(time.Minute))
	s.True(dErrors.HasCode(err, dErrors.CodeAttestationCooldown))

	triggered, err = s.attest(s.keys[1], s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.True(triggered)
	s.Equal(StatusTriggered, s.r.Status)
	s.Equal(s.now.Add(time.Minute).Add(DefaultTimelock), s.r.UnlockAt(s.policy))

	_, err = s.attest(id.UserID(uuid.New()), s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *RecoverySuite) TestTimelockGatesCompletion() {
	s.True(dErrors.HasCode(s.r.CanComplete(s.keys[0], s.now, s.policy), dErrors.CodeInvalidState))

	_, _ = s.attest(s.keys[0], s.now)
	_, _ = s.attest(s.keys[1], s.now)

	err := s.r.CanComplete(s.keys[2], s.now.Add(DefaultTimelock-time.Second), s.policy)
	s.True(dErrors.HasCode(err, dErrors.CodeTimelockNotExpired))

	err = s.r.CanComplete(id.UserID(uuid.New()), s.now.Add(DefaultTimelock), s.policy)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	at := s.now.Add(DefaultTimelock)
	s.Require().NoError(s.r.CanComplete(s.keys[2], at, s.policy))
	payload := s.r.ApplyComplete(s.keys[2], at)
	s.Equal([]byte("encrypted-seed"), payload)
	s.Equal(StatusCompleted, s.r.Status)
	s.Equal(s.keys[2], s.r.CompletedBy)

	err = s.r.CanComplete(s.keys[0], at.Add(time.Hour), s.policy)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyCompleted))

	_, err = s.attest(s.keys[2], at.Add(48*time.Hour))
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyCompleted))
}

func (s *RecoverySuite) TestCloneIsDeep() {
	_, _ = s.attest(s.keys[0], s.now)
	c := s.r.Clone()
	c.Payload[0] = 'X'
	c.ApplyAttest(s.keys[1], s.now)
	s.Equal(byte('e'), s.r.Payload[0])
	s.Equal(1, s.r.Attestations.Count())
	s.Equal(StatusPending, s.r.Status)
}
