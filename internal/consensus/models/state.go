package models

import (
	"time"

	id "vigil/pkg/domain"
)

// State is the derived consensus view of one subject. Everything except the
// progress markers can be rebuilt from the event log.
type State struct {
	SubjectID    id.SubjectID `json:"subject_id"`
	Confidence   float64      `json:"confidence"`
	Action       Action       `json:"action"`
	Contributing []id.EventID `json:"contributing"`
	EventCount   int          `json:"event_count"`
	Digest       Digest       `json:"digest"`
	EvaluatedAt  time.Time    `json:"evaluated_at"`

	// Progress markers. AppliedDigest is the event set the engine last acted
	// on; the timestamps record the external calls already made.
	AppliedDigest        Digest     `json:"applied_digest,omitempty"`
	CertificateOrderedAt *time.Time `json:"certificate_ordered_at,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
}

// Rebuild derives a fresh state from the event log.
func Rebuild(subject id.SubjectID, events []*Event, now time.Time) *State {
	s := &State{SubjectID: subject}
	s.Recompute(events, now)
	return s
}

// Recompute refreshes the derived fields and keeps the progress markers.
func (s *State) Recompute(events []*Event, now time.Time) {
	res := Aggregate(events)
	s.Confidence = res.Confidence
	s.Action = res.Action
	s.Contributing = res.Contributing
	s.EventCount = len(events)
	s.Digest = res.Digest
	s.EvaluatedAt = now
}

// IsApplied reports whether the engine already acted on the current event set.
func (s *State) IsApplied() bool {
	return !s.AppliedDigest.IsZero() && s.AppliedDigest == s.Digest
}

func (s *State) NeedsVerification() bool {
	return s.Action == ActionVerifyDeath && s.VerifiedAt == nil
}

// NeedsCertificateOrder is true once per subject: a certificate is ordered
// at most once until the cache is rebuilt.
func (s *State) NeedsCertificateOrder() bool {
	return s.Action == ActionOrderCertificate && s.CertificateOrderedAt == nil && s.VerifiedAt == nil
}

func (s *State) MarkVerified(at time.Time) {
	t := at
	s.VerifiedAt = &t
}

func (s *State) MarkCertificateOrdered(at time.Time) {
	t := at
	s.CertificateOrderedAt = &t
}

func (s *State) MarkApplied() {
	s.AppliedDigest = s.Digest
}

func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Contributing = append([]id.EventID(nil), s.Contributing...)
	if s.CertificateOrderedAt != nil {
		t := *s.CertificateOrderedAt
		c.CertificateOrderedAt = &t
	}
	if s.VerifiedAt != nil {
		t := *s.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}
