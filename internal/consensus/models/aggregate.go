package models

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"

	id "vigil/pkg/domain"
)

// Action is what the engine should do about a subject.
type Action string

const (
	ActionNone             Action = "none"
	ActionOrderCertificate Action = "order_certificate"
	ActionVerifyDeath      Action = "verify_death"
)

const (
	// OrderThreshold is the lowest confidence that justifies ordering an
	// official certificate.
	OrderThreshold = 0.5
	// VerifyThreshold is the confidence at which death is verified from any
	// source.
	VerifyThreshold = 0.7
	// CertificateThreshold is the confidence at which a certificate event
	// verifies death on its own.
	CertificateThreshold = 0.5
)

// Digest summarizes an event set. Two sets with the same fingerprints have
// the same digest regardless of delivery order.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(b []byte) error {
	return decodeHash32(b, (*[32]byte)(d))
}

// Result is the outcome of aggregating one subject's events.
type Result struct {
	Confidence   float64
	Action       Action
	Contributing []id.EventID
	Digest       Digest
}

// Aggregate derives confidence and action from a subject's events.
// Confidence is the maximum over effective pending or confirmed events; an
// event is effective unless a later resolution supersedes it. The result depends
// only on the event set, not on delivery order or repetition.
func Aggregate(events []*Event) Result {
	superseded := make(map[id.EventID]bool)
	for _, e := range events {
		if e.Supersedes != nil {
			superseded[*e.Supersedes] = true
		}
	}

	ordered := uniqueByFingerprint(events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].Fingerprint[:], ordered[j].Fingerprint[:]) < 0
	})

	res := Result{Action: ActionNone, Contributing: []id.EventID{}}
	certificate := false
	for _, e := range ordered {
		if superseded[e.ID] || !e.Counts() {
			continue
		}
		res.Contributing = append(res.Contributing, e.ID)
		if e.Confidence > res.Confidence {
			res.Confidence = e.Confidence
		}
		if e.Source.IsCertificate() && e.Confidence >= CertificateThreshold {
			certificate = true
		}
	}

	switch {
	case certificate, res.Confidence >= VerifyThreshold:
		res.Action = ActionVerifyDeath
	case len(res.Contributing) > 0 && res.Confidence >= OrderThreshold:
		res.Action = ActionOrderCertificate
	}
	res.Digest = digest(ordered)
	return res
}

func uniqueByFingerprint(events []*Event) []*Event {
	seen := make(map[Fingerprint]bool, len(events))
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		if seen[e.Fingerprint] {
			continue
		}
		seen[e.Fingerprint] = true
		out = append(out, e)
	}
	return out
}

// digest expects events sorted by fingerprint.
func digest(sorted []*Event) Digest {
	h := blake3.New()
	for _, e := range sorted {
		_, _ = h.Write(e.Fingerprint[:])
	}
	var d Digest
	h.Sum(d[:0])
	return d
}
