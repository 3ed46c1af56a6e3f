package service

import (
	"context"
	"time"

	"vigil/internal/consensus/models"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/requestcontext"
)

// Evaluation reports what one evaluation pass did for a subject.
type Evaluation struct {
	SubjectID      id.SubjectID
	Confidence     float64
	Action         models.Action
	Forwarded      models.Action // what was sent to a collaborator, or none
	VaultsVerified int
	// AwaitingTrigger is set when some of the subject's vaults have not yet
	// reached triggered; the event set stays unapplied so it is forwarded again.
	AwaitingTrigger bool
	Digest         models.Digest
	EvaluatedAt    time.Time
}

// Evaluate acts on the subject's current event set. It returns
// CodeConsensusStale when that exact set was already acted on.
//
// verify_death is forwarded once per event set until every vault of the
// subject has taken it; the vault authority's own replay guard makes a
// repeated forward harmless. A vault that is not yet triggered leaves the
// evaluation awaiting its trigger rather than failed.
// order_certificate is sent at most once per subject.
func (s *Service) Evaluate(ctx context.Context, subject id.SubjectID) (*Evaluation, error) {
	ctx, span := s.startSpan(ctx, "Evaluate", subject)
	defer span.End()

	unlock, err := s.locks.lock(ctx, subject)
	if err != nil {
		return nil, finish(span, err)
	}
	defer unlock()

	st, err := s.refresh(ctx, subject)
	if err != nil {
		return nil, finish(span, err)
	}
	if st.IsApplied() {
		s.metrics.IncEvaluation("stale")
		return nil, finish(span, dErrors.New(dErrors.CodeConsensusStale, "event set already processed"))
	}

	now := requestcontext.Now(ctx)
	eval := &Evaluation{
		SubjectID:   subject,
		Confidence:  st.Confidence,
		Action:      st.Action,
		Forwarded:   models.ActionNone,
		Digest:      st.Digest,
		EvaluatedAt: now,
	}

	switch {
	case st.NeedsVerification():
		n, err := s.verifier.VerifySubject(ctx, subject)
		if dErrors.HasCode(err, dErrors.CodeNotReady) {
			eval.Forwarded = models.ActionVerifyDeath
			eval.VaultsVerified = n
			eval.AwaitingTrigger = true
			s.putState(ctx, st)
			s.metrics.IncEvaluation("waiting")
			s.track(ctx, audit.EventConsensusEvaluated, subject, "awaiting_trigger")
			s.logger.InfoContext(ctx, "verify_death waiting on untriggered vaults",
				"subject_id", subject.String(), "verified", n)
			return eval, finish(span, nil)
		}
		if err != nil {
			s.putState(ctx, st)
			s.metrics.IncEvaluation("failed")
			return nil, finish(span, dErrors.Wrap(err, dErrors.CodeOf(err), "forward verify_death"))
		}
		st.MarkVerified(now)
		eval.Forwarded = models.ActionVerifyDeath
		eval.VaultsVerified = n
		s.metrics.IncAction(string(models.ActionVerifyDeath))
	case st.NeedsCertificateOrder() && s.orderer != nil:
		if err := s.orderer.OrderCertificate(ctx, subject); err != nil {
			s.putState(ctx, st)
			s.metrics.IncEvaluation("failed")
			return nil, finish(span, dErrors.Wrap(err, dErrors.CodeOf(err), "order certificate"))
		}
		st.MarkCertificateOrdered(now)
		eval.Forwarded = models.ActionOrderCertificate
		s.metrics.IncAction(string(models.ActionOrderCertificate))
		s.track(ctx, audit.EventCertificateOrdered, subject, "ordered")
	}

	st.MarkApplied()
	s.putState(ctx, st)
	s.metrics.IncEvaluation("applied")
	s.track(ctx, audit.EventConsensusEvaluated, subject, string(eval.Forwarded))
	return eval, finish(span, nil)
}
