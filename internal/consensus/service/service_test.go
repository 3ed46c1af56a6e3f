package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"vigil/internal/consensus/eventlog"
	"vigil/internal/consensus/mocks"
	"vigil/internal/consensus/models"
	"vigil/internal/consensus/statecache"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=../mocks/mocks.go -package=mocks VaultVerifier,CertificateOrderer

type recordingSecurity struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func (r *recordingSecurity) Emit(_ context.Context, e audit.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSecurity) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type ConsensusServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	verifier *mocks.MockVaultVerifier
	orderer  *mocks.MockCertificateOrderer
	security *recordingSecurity
	log      *eventlog.InMemoryLog
	service  *Service
	subject  id.SubjectID
	ctx      context.Context
	now      time.Time
}

func TestConsensusServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsensusServiceSuite))
}

func (s *ConsensusServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.verifier = mocks.NewMockVaultVerifier(s.ctrl)
	s.orderer = mocks.NewMockCertificateOrderer(s.ctrl)
	s.security = &recordingSecurity{}
	s.log = eventlog.NewInMemory()
	s.service = New(s.log, statecache.NewInMemory(), s.verifier,
		WithCertificateOrderer(s.orderer),
		WithSecurityAuditor(s.security),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.subject = id.SubjectID(uuid.New())
	s.now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ConsensusServiceSuite) ingest(source id.EvidenceSource, confidence float64, ref string) *IngestResult {
	res, err := s.service.Ingest(s.ctx, IngestCommand{
		SubjectID:  s.subject,
		Source:     source,
		Confidence: confidence,
		Reference:  ref,
		ObservedAt: s.now.Add(-time.Hour),
	})
	s.Require().NoError(err)
	return res
}

func (s *ConsensusServiceSuite) TestRegistryThenCertificate() {
	first := s.ingest(id.EvidenceSourceRegistry, 0.55, "ssdi-1")
	s.True(first.Appended)
	s.Equal(models.ActionOrderCertificate, first.State.Action)

	s.orderer.EXPECT().OrderCertificate(gomock.Any(), s.subject).Return(nil).Times(1)
	eval, err := s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(models.ActionOrderCertificate, eval.Forwarded)

	_, err = s.service.Evaluate(s.ctx, s.subject)
	s.True(dErrors.HasCode(err, dErrors.CodeConsensusStale))

	cert := s.ingest(id.EvidenceSourceCertificate, 0.95, "cert-1")
	s.InDelta(0.95, cert.State.Confidence, 1e-9)
	s.Equal(models.ActionVerifyDeath, cert.State.Action)

	s.verifier.EXPECT().VerifySubject(gomock.Any(), s.subject).Return(1, nil).Times(1)
	eval, err = s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(models.ActionVerifyDeath, eval.Forwarded)
	s.Equal(1, eval.VaultsVerified)

	redelivered := s.ingest(id.EvidenceSourceRegistry, 0.55, "ssdi-1")
	s.False(redelivered.Appended)
	s.Equal(first.Fingerprint, redelivered.Fingerprint)

	st, err := s.service.State(s.ctx, s.subject)
	s.Require().NoError(err)
	s.InDelta(0.95, st.Confidence, 1e-9)
	s.Equal(2, st.EventCount)
	s.NotNil(st.VerifiedAt)
	s.NotNil(st.CertificateOrderedAt)

	_, err = s.service.Evaluate(s.ctx, s.subject)
	s.True(dErrors.HasCode(err, dErrors.CodeConsensusStale))
}

func (s *ConsensusServiceSuite) TestNewEventAfterVerificationDoesNotReforward() {
	s.ingest(id.EvidenceSourceRegistry, 0.8, "r1")
	s.verifier.EXPECT().VerifySubject(gomock.Any(), s.subject).Return(1, nil).Times(1)
	_, err := s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err)

	s.ingest(id.EvidenceSourceObituary, 0.6, "o1")
	eval, err := s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(models.ActionNone, eval.Forwarded)
	s.Equal(models.ActionVerifyDeath, eval.Action)
}

func (s *ConsensusServiceSuite) TestDisputeAndResolution() {
	res, err := s.service.Ingest(s.ctx, IngestCommand{
		SubjectID:  s.subject,
		Source:     id.EvidenceSourceRegistry,
		Confidence: 0.9,
		Status:     models.StatusDisputed,
		Reference:  "r-disputed",
	})
	s.Require().NoError(err)
	s.Equal(models.ActionNone, res.State.Action)
	s.Contains(s.security.actions(), string(audit.EventEvidenceDisputed))

	eval, err := s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(models.ActionNone, eval.Forwarded)

	reviewer := id.UserID(uuid.New())
	reviewCtx := requestcontext.WithUserID(s.ctx, reviewer)
	resolution, err := s.service.Resolve(reviewCtx, ResolveCommand{EventID: res.EventID, Outcome: models.StatusConfirmed})
	s.Require().NoError(err)
	s.Equal(res.EventID, *resolution.Supersedes)
	s.Equal(reviewer, *resolution.ResolvedBy)

	_, err = s.service.Resolve(reviewCtx, ResolveCommand{EventID: res.EventID, Outcome: models.StatusRejected})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	s.verifier.EXPECT().VerifySubject(gomock.Any(), s.subject).Return(2, nil)
	eval, err = s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(models.ActionVerifyDeath, eval.Forwarded)
}

func (s *ConsensusServiceSuite) TestResolveUnknownEvent() {
	_, err := s.service.Resolve(s.ctx, ResolveCommand{EventID: id.NewEventID(), Outcome: models.StatusRejected})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsensusServiceSuite) TestVerifyFailureIsRetried() {
	s.ingest(id.EvidenceSourceCertificate, 0.95, "cert-1")
	gomock.InOrder(
		s.verifier.EXPECT().VerifySubject(gomock.Any(), s.subject).Return(0, errors.New("authority unavailable")),
		s.verifier.EXPECT().VerifySubject(gomock.Any(), s.subject).Return(1, nil),
	)

	_, err := s.service.Evaluate(s.ctx, s.subject)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	eval, err := s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(models.ActionVerifyDeath, eval.Forwarded)
}

func (s *ConsensusServiceSuite) TestVerifyWaitsForVaultTrigger() {
	s.ingest(id.EvidenceSourceCertificate, 0.95, "cert-1")
	gomock.InOrder(
		s.verifier.EXPECT().VerifySubject(gomock.Any(), s.subject).
			Return(0, dErrors.New(dErrors.CodeNotReady, "1 vault(s) not yet triggered")),
		s.verifier.EXPECT().VerifySubject(gomock.Any(), s.subject).Return(1, nil),
	)

	eval, err := s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err)
	s.True(eval.AwaitingTrigger)
	s.Equal(models.ActionVerifyDeath, eval.Forwarded)
	s.Zero(eval.VaultsVerified)

	st, err := s.service.State(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Nil(st.VerifiedAt)
	s.False(st.IsApplied())

	eval, err = s.service.Evaluate(s.ctx, s.subject)
	s.Require().NoError(err, "a waiting event set is not stale")
	s.False(eval.AwaitingTrigger)
	s.Equal(1, eval.VaultsVerified)

	st, err = s.service.State(s.ctx, s.subject)
	s.Require().NoError(err)
	s.NotNil(st.VerifiedAt)

	_, err = s.service.Evaluate(s.ctx, s.subject)
	s.True(dErrors.HasCode(err, dErrors.CodeConsensusStale))
}

func (s *ConsensusServiceSuite) TestRedeliveryWithoutObservedTimeIsDeduplicated() {
	cmd := IngestCommand{
		SubjectID:  s.subject,
		Source:     id.EvidenceSourceObituary,
		Confidence: 0.4,
		Reference:  "obit-9",
		Evidence:   []byte(`{"name":"J. Doe"}`),
	}
	first, err := s.service.Ingest(s.ctx, cmd)
	s.Require().NoError(err)
	s.True(first.Appended)

	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Minute))
	again, err := s.service.Ingest(later, cmd)
	s.Require().NoError(err)
	s.False(again.Appended)
	s.Equal(first.Fingerprint, again.Fingerprint)

	st, err := s.service.State(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(1, st.EventCount)
}

func (s *ConsensusServiceSuite) TestPendingAndConfirmedEvidenceAggregate() {
	pending := s.ingest(id.EvidenceSourceRegistry, 0.55, "r1")
	s.Equal(models.ActionOrderCertificate, pending.State.Action)

	confirmed, err := s.service.Ingest(s.ctx, IngestCommand{
		SubjectID:  s.subject,
		Source:     id.EvidenceSourceObituary,
		Confidence: 0.8,
		Status:     models.StatusConfirmed,
		Reference:  "o1",
	})
	s.Require().NoError(err)
	s.InDelta(0.8, confirmed.State.Confidence, 1e-9)
	s.Equal(models.ActionVerifyDeath, confirmed.State.Action)
	s.Len(confirmed.State.Contributing, 2)
}

func (s *ConsensusServiceSuite) TestStateRebuildsFromLog() {
	s.ingest(id.EvidenceSourceRegistry, 0.55, "r1")
	s.ingest(id.EvidenceSourceObituary, 0.4, "o1")
	want, err := s.service.State(s.ctx, s.subject)
	s.Require().NoError(err)

	fresh := New(s.log, statecache.NewInMemory(), s.verifier)
	got, err := fresh.State(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(want.Digest, got.Digest)
	s.Equal(want.Confidence, got.Confidence)
	s.Equal(want.Contributing, got.Contributing)

	_, err = fresh.State(s.ctx, id.SubjectID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsensusServiceSuite) TestConcurrentIngestSameSubject() {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Ingest(s.ctx, IngestCommand{
				SubjectID:  s.subject,
				Source:     id.EvidenceSourceObituary,
				Confidence: 0.01 * float64(i),
				Reference:  fmt.Sprintf("o-%d", i),
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	st, err := s.service.State(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(20, st.EventCount)
	s.InDelta(0.19, st.Confidence, 1e-9)
	s.Equal(1, s.service.Queue().Len())
}

func (s *ConsensusServiceSuite) TestIngestValidation() {
	_, err := s.service.Ingest(s.ctx, IngestCommand{SubjectID: s.subject, Source: id.EvidenceSourceRegistry, Confidence: 1.5})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Zero(s.service.Queue().Len())
}

func (s *ConsensusServiceSuite) TestRecoverEnqueuesLoggedSubjects() {
	other := id.SubjectID(uuid.New())
	s.ingest(id.EvidenceSourceRegistry, 0.3, "r1")
	_, err := s.service.Ingest(s.ctx, IngestCommand{SubjectID: other, Source: id.EvidenceSourceRegistry, Confidence: 0.3})
	s.Require().NoError(err)

	restarted := New(s.log, statecache.NewInMemory(), s.verifier)
	n, err := restarted.Recover(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal([]id.SubjectID{s.subject, other}, restarted.Queue().PopBatch(10))
}
