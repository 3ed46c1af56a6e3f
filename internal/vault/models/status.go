package models

// Status is the vault lifecycle state.
//
// Forward path: active -> warning -> triggered -> death_verified ->
// ready_for_claim -> claimed. The only backward edges are triggered -> active
// (owner check-in or emergency revoke inside the window) and warning -> active
// (owner check-in).
type Status string

const (
	StatusActive        Status = "active"
	StatusWarning       Status = "warning"
	StatusTriggered     Status = "triggered"
	StatusDeathVerified Status = "death_verified"
	StatusReadyForClaim Status = "ready_for_claim"
	StatusClaimed       Status = "claimed"
)

var statusRank = map[Status]int{
	StatusActive:        0,
	StatusWarning:       1,
	StatusTriggered:     2,
	StatusDeathVerified: 3,
	StatusReadyForClaim: 4,
	StatusClaimed:       5,
}

func (s Status) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s Status) String() string { return string(s) }

// IsLocked reports whether the owner has lost control of the vault.
func (s Status) IsLocked() bool {
	return statusRank[s] >= statusRank[StatusDeathVerified]
}

// IsPreTrigger reports whether the owner is still considered alive.
func (s Status) IsPreTrigger() bool {
	return s == StatusActive || s == StatusWarning
}

// Trigger reasons recorded with the triggered transition.
const (
	ReasonGuardianQuorum  = "guardian_quorum"
	ReasonInactivity      = "inactivity"
	ReasonInactivityWarn  = "inactivity_warning"
	ReasonCheckIn         = "owner_check_in"
	ReasonEmergencyRevoke = "emergency_revoke"
	ReasonDeathVerified   = "death_verified"
	ReasonDelayElapsed    = "verification_delay_elapsed"
	ReasonClaimed         = "beneficiary_claim"
)

// CheckInChannel records where a check-in came from.
type CheckInChannel string

const (
	ChannelWeb     CheckInChannel = "web"
	ChannelMobile  CheckInChannel = "mobile"
	ChannelUnknown CheckInChannel = "unknown"
)
