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

// IngestCommand is one normalized observation from a source.
type IngestCommand struct {
	SubjectID  id.SubjectID
	Source     id.EvidenceSource
	Confidence float64
	Status     models.EventStatus // defaults to pending
	Reference  string
	Evidence   []byte
	ObservedAt time.Time
}

type IngestResult struct {
	EventID     id.EventID
	Fingerprint models.Fingerprint
	Appended    bool // false for a redelivery
	State       *models.State
}

// Ingest appends an observation and refreshes the subject's state. A
// redelivered observation leaves the log and the state unchanged.
func (s *Service) Ingest(ctx context.Context, cmd IngestCommand) (*IngestResult, error) {
	ctx, span := s.startSpan(ctx, "Ingest", cmd.SubjectID)
	defer span.End()

	if cmd.Status == "" {
		cmd.Status = models.StatusPending
	}
	now := requestcontext.Now(ctx)
	event, err := models.NewEvent(cmd.SubjectID, cmd.Source, cmd.Confidence, cmd.Status, cmd.Reference, cmd.Evidence, cmd.ObservedAt, now)
	if err != nil {
		return nil, finish(span, err)
	}

	unlock, err := s.locks.lock(ctx, cmd.SubjectID)
	if err != nil {
		return nil, finish(span, err)
	}
	defer unlock()

	appended, err := s.log.Append(ctx, event)
	if err != nil {
		return nil, finish(span, wrapStoreErr(err))
	}
	result := &IngestResult{Fingerprint: event.Fingerprint, Appended: appended}
	if !appended {
		s.metrics.IncDeduped(cmd.Source.String())
		s.logger.DebugContext(ctx, "verification event redelivered",
			"subject_id", cmd.SubjectID.String(),
			"source", cmd.Source.String(),
			"fingerprint", event.Fingerprint.String(),
		)
		return result, finish(span, nil)
	}
	result.EventID = event.ID
	s.metrics.IncIngested(cmd.Source.String())
	s.track(ctx, audit.EventEvidenceIngested, cmd.SubjectID, cmd.Source.String())
	if event.Status == models.StatusDisputed {
		s.emitSecurity(ctx, audit.EventEvidenceDisputed, cmd.SubjectID.String(), "ingested_disputed", audit.SeverityWarning)
	}

	st, err := s.refresh(ctx, cmd.SubjectID)
	if err != nil {
		return nil, finish(span, err)
	}
	s.putState(ctx, st)
	s.enqueue(cmd.SubjectID)
	result.State = st.Clone()
	return result, finish(span, nil)
}

// ResolveCommand records an external review outcome for one event.
type ResolveCommand struct {
	EventID id.EventID
	Outcome models.EventStatus
}

// Resolve appends a resolution that supersedes the target event. Events are
// never edited; an event that was already resolved is rejected so reviews
// form a chain rather than a fork.
func (s *Service) Resolve(ctx context.Context, cmd ResolveCommand) (*models.Event, error) {
	target, err := s.log.Get(ctx, cmd.EventID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	ctx, span := s.startSpan(ctx, "Resolve", target.SubjectID)
	defer span.End()

	unlock, err := s.locks.lock(ctx, target.SubjectID)
	if err != nil {
		return nil, finish(span, err)
	}
	defer unlock()

	events, err := s.log.ListBySubject(ctx, target.SubjectID)
	if err != nil {
		return nil, finish(span, wrapStoreErr(err))
	}
	for _, e := range events {
		if e.Supersedes != nil && *e.Supersedes == target.ID {
			return nil, finish(span, dErrors.New(dErrors.CodeInvalidState, "event already resolved"))
		}
	}

	resolution, err := models.NewResolution(target, cmd.Outcome, requestcontext.UserID(ctx), requestcontext.Now(ctx))
	if err != nil {
		return nil, finish(span, err)
	}
	appended, err := s.log.Append(ctx, resolution)
	if err != nil {
		return nil, finish(span, wrapStoreErr(err))
	}
	if !appended {
		return nil, finish(span, dErrors.New(dErrors.CodeInvalidState, "event already resolved"))
	}
	s.track(ctx, audit.EventEvidenceIngested, target.SubjectID, "resolution:"+cmd.Outcome.String())

	st, err := s.refresh(ctx, target.SubjectID)
	if err != nil {
		return nil, finish(span, err)
	}
	s.putState(ctx, st)
	s.enqueue(target.SubjectID)
	return resolution, finish(span, nil)
}
