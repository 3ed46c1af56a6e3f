package domain

import (
	"github.com/google/uuid"

	dErrors "vigil/pkg/domain-errors"
)

// Typed identifiers. Distinct named types keep a vault id from being passed
// where a wallet id is expected; conversion requires an explicit cast.
type (
	VaultID    uuid.UUID
	UserID     uuid.UUID
	SubjectID  uuid.UUID
	WalletID   uuid.UUID
	RecoveryID uuid.UUID
	EventID    uuid.UUID
)

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return id, nil
}

// ParseVaultID validates external input. Returns CodeInvalidInput on empty,
// malformed, or nil UUIDs.
func ParseVaultID(s string) (VaultID, error) {
	id, err := parseUUID(s, "vault ID")
	return VaultID(id), err
}

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseSubjectID(s string) (SubjectID, error) {
	id, err := parseUUID(s, "subject ID")
	return SubjectID(id), err
}

func ParseWalletID(s string) (WalletID, error) {
	id, err := parseUUID(s, "wallet ID")
	return WalletID(id), err
}

func ParseRecoveryID(s string) (RecoveryID, error) {
	id, err := parseUUID(s, "recovery ID")
	return RecoveryID(id), err
}

func ParseEventID(s string) (EventID, error) {
	id, err := parseUUID(s, "event ID")
	return EventID(id), err
}

func (id VaultID) String() string    { return uuid.UUID(id).String() }
func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id WalletID) String() string   { return uuid.UUID(id).String() }
func (id RecoveryID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }

func (id VaultID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id WalletID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RecoveryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewVaultID and friends mint random v4 identifiers.
func NewVaultID() VaultID       { return VaultID(uuid.New()) }
func NewRecoveryID() RecoveryID { return RecoveryID(uuid.New()) }
func NewEventID() EventID       { return EventID(uuid.New()) }

// Text marshaling keeps JSON payloads in canonical UUID form.

func (id VaultID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id SubjectID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id WalletID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id RecoveryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *VaultID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *SubjectID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *WalletID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RecoveryID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EventID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
