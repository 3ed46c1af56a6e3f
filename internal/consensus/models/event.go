// Package models holds the death verification event log types and the
// aggregation rules that derive a subject's consensus state from them.
package models

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/zeebo/blake3"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// MaxEvidenceBytes bounds the raw evidence carried by one event.
const MaxEvidenceBytes = 64 << 10

// EventStatus is the review status of a verification event. Pending and
// confirmed events contribute to aggregation; disputed events wait for a
// review and rejected events never count.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusConfirmed EventStatus = "confirmed"
	StatusRejected  EventStatus = "rejected"
	StatusDisputed  EventStatus = "disputed"
)

func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(s); st {
	case StatusPending, StatusConfirmed, StatusRejected, StatusDisputed:
		return st, nil
	case "":
		return "", dErrors.New(dErrors.CodeInvalidInput, "status cannot be empty")
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid status")
	}
}

// ParseResolutionOutcome accepts the two verdicts a review can reach.
func ParseResolutionOutcome(s string) (EventStatus, error) {
	switch st := EventStatus(s); st {
	case StatusConfirmed, StatusRejected:
		return st, nil
	case "":
		return "", dErrors.New(dErrors.CodeInvalidInput, "outcome cannot be empty")
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "outcome must be confirmed or rejected")
	}
}

func (s EventStatus) String() string { return string(s) }

// Fingerprint identifies an observation independently of when or how often
// it was delivered.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(b []byte) error {
	return decodeHash32(b, (*[32]byte)(f))
}

// Event is one append-only entry of the verification log. Events are never
// edited: a review outcome is recorded as a new event that supersedes the
// one under review.
type Event struct {
	ID          id.EventID
	Seq         uint64 // assigned by the log on append
	SubjectID   id.SubjectID
	Source      id.EvidenceSource
	Confidence  float64
	Status      EventStatus
	Reference   string // the source's own record identifier
	Evidence    []byte
	ObservedAt  time.Time
	ReceivedAt  time.Time
	Supersedes  *id.EventID
	ResolvedBy  *id.UserID
	Fingerprint Fingerprint
}

// NewEvent validates a source observation and computes its fingerprint.
func NewEvent(subject id.SubjectID, source id.EvidenceSource, confidence float64, status EventStatus, reference string, evidence []byte, observedAt, receivedAt time.Time) (*Event, error) {
	if subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject_id is required")
	}
	if !source.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid source")
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "confidence must be within [0,1]")
	}
	if _, err := ParseEventStatus(string(status)); err != nil {
		return nil, err
	}
	if len(evidence) > MaxEvidenceBytes {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("evidence exceeds %d bytes", MaxEvidenceBytes))
	}
	// The fingerprint only sees a time the source supplied. The receipt
	// time stands in for display.
	fingerprint := observationFingerprint(subject, source, confidence, reference, evidence, observedAt)
	if observedAt.IsZero() {
		observedAt = receivedAt
	}
	return &Event{
		ID:          id.NewEventID(),
		SubjectID:   subject,
		Source:      source,
		Confidence:  confidence,
		Status:      status,
		Reference:   reference,
		Evidence:    append([]byte(nil), evidence...),
		ObservedAt:  observedAt.UTC(),
		ReceivedAt:  receivedAt.UTC(),
		Fingerprint: fingerprint,
	}, nil
}

// NewResolution records a review outcome for target. The resolution carries
// the target's observation so aggregation can use it in the target's place.
func NewResolution(target *Event, outcome EventStatus, reviewer id.UserID, at time.Time) (*Event, error) {
	if _, err := ParseResolutionOutcome(string(outcome)); err != nil {
		return nil, err
	}
	targetID := target.ID
	e := &Event{
		ID:         id.NewEventID(),
		SubjectID:  target.SubjectID,
		Source:     target.Source,
		Confidence: target.Confidence,
		Status:     outcome,
		Reference:  target.Reference,
		ObservedAt: target.ObservedAt,
		ReceivedAt: at.UTC(),
		Supersedes: &targetID,
	}
	if !reviewer.IsNil() {
		e.ResolvedBy = &reviewer
	}
	e.Fingerprint = resolutionFingerprint(targetID, outcome)
	return e, nil
}

// Counts reports whether the event contributes to aggregation on its own
// terms. Supersession is decided over the whole event set.
func (e *Event) Counts() bool {
	return e.Status == StatusPending || e.Status == StatusConfirmed
}

func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Evidence = append([]byte(nil), e.Evidence...)
	if e.Supersedes != nil {
		s := *e.Supersedes
		c.Supersedes = &s
	}
	if e.ResolvedBy != nil {
		r := *e.ResolvedBy
		c.ResolvedBy = &r
	}
	return &c
}

// observationFingerprint hashes the observation fields with length prefixes.
// Status and delivery time are excluded so a redelivery dedupes; an absent
// observation time hashes as zero.
func observationFingerprint(subject id.SubjectID, source id.EvidenceSource, confidence float64, reference string, evidence []byte, observedAt time.Time) Fingerprint {
	h := blake3.New()
	writeField(h, []byte("observation"))
	writeField(h, []byte(source))
	writeField(h, []byte(subject.String()))
	writeField(h, []byte(reference))
	var buf [8]byte
	if !observedAt.IsZero() {
		binary.BigEndian.PutUint64(buf[:], uint64(observedAt.UnixNano()))
	}
	writeField(h, buf[:])
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(confidence))
	writeField(h, buf[:])
	writeField(h, evidence)
	var f Fingerprint
	h.Sum(f[:0])
	return f
}

func resolutionFingerprint(target id.EventID, outcome EventStatus) Fingerprint {
	h := blake3.New()
	writeField(h, []byte("resolution"))
	writeField(h, []byte(target.String()))
	writeField(h, []byte(outcome))
	var f Fingerprint
	h.Sum(f[:0])
	return f
}

func writeField(h *blake3.Hasher, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(b)
}

func decodeHash32(b []byte, out *[32]byte) error {
	if len(b) == 0 {
		*out = [32]byte{}
		return nil
	}
	if hex.DecodedLen(len(b)) != 32 {
		return fmt.Errorf("hash must be 64 hex characters")
	}
	_, err := hex.Decode(out[:], b)
	return err
}
