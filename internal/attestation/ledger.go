package attestation

import (
	"slices"
	"time"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

const (
	// MemberCount is the fixed size of a guardian or recovery-key set.
	MemberCount = 3
	// Quorum is the number of distinct live attestations that triggers.
	Quorum = 2
	// DefaultCooldown is the minimum spacing between two attestations by
	// the same member.
	DefaultCooldown = 24 * time.Hour
)

// Record is one member's attestation time.
type Record struct {
	Member id.UserID `json:"member"`
	At     time.Time `json:"at"`
}

// Ledger tracks live attestations for one round plus each member's last
// attestation time. The last-attested times survive Clear so a member
// cannot re-attest inside the cooldown just because the round was reset.
//
// Ledger holds no lock; callers run it inside their store's Execute.
type Ledger struct {
	live map[id.UserID]time.Time
	last map[id.UserID]time.Time
}

func New() *Ledger {
	return &Ledger{
		live: make(map[id.UserID]time.Time),
		last: make(map[id.UserID]time.Time),
	}
}

// Restore rebuilds a ledger from persisted records.
func Restore(live, last []Record) *Ledger {
	l := New()
	for _, r := range live {
		l.live[r.Member] = r.At
	}
	for _, r := range last {
		l.last[r.Member] = r.At
	}
	return l
}

// CanAttest checks, in order: membership, the member's cooldown, and
// whether the member already holds a live attestation this round.
func (l *Ledger) CanAttest(members []id.UserID, member id.UserID, now time.Time, cooldown time.Duration) error {
	if !slices.Contains(members, member) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not a registered attester")
	}
	if last, ok := l.last[member]; ok && now.Sub(last) < cooldown {
		return dErrors.New(dErrors.CodeAttestationCooldown, "attestation cooldown has not elapsed")
	}
	if _, ok := l.live[member]; ok {
		return dErrors.New(dErrors.CodeAlreadyAttested, "attestation already recorded this round")
	}
	return nil
}

// ApplyAttest records the attestation. Call CanAttest first.
func (l *Ledger) ApplyAttest(member id.UserID, now time.Time) {
	l.live[member] = now
	l.last[member] = now
}

// Count is the number of distinct members with a live attestation.
func (l *Ledger) Count() int {
	if l == nil {
		return 0
	}
	return len(l.live)
}

func (l *Ledger) HasQuorum() bool {
	return l.Count() >= Quorum
}

// Clear drops every live attestation.
func (l *Ledger) Clear() {
	clear(l.live)
}

// Live returns live attestations ordered by time.
func (l *Ledger) Live() []Record {
	return sortedRecords(l.live)
}

// History returns each member's last attestation time.
func (l *Ledger) History() []Record {
	return sortedRecords(l.last)
}

func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return New()
	}
	return Restore(l.Live(), l.History())
}

func sortedRecords(m map[id.UserID]time.Time) []Record {
	out := make([]Record, 0, len(m))
	for member, at := range m {
		out = append(out, Record{Member: member, At: at})
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return compareIDs(a.Member, b.Member)
	})
	return out
}

func compareIDs(a, b id.UserID) int {
	return slices.Compare(a[:], b[:])
}

// ValidateMembers checks a member set is exactly MemberCount distinct,
// non-nil ids.
func ValidateMembers(members []id.UserID) error {
	if len(members) != MemberCount {
		return dErrors.New(dErrors.CodeInvariantViolation, "exactly 3 members are required")
	}
	seen := make(map[id.UserID]struct{}, len(members))
	for _, m := range members {
		if m.IsNil() {
			return dErrors.New(dErrors.CodeInvariantViolation, "member id must not be empty")
		}
		if _, dup := seen[m]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, "members must be distinct")
		}
		seen[m] = struct{}{}
	}
	return nil
}
