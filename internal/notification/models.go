package notification

import "time"

// Aggregate kinds that emit status changes.
const (
	AggregateVault    = "vault"
	AggregateRecovery = "recovery"
)

// StatusChange is published for every committed state transition.
type StatusChange struct {
	Aggregate   string    `json:"aggregate"`
	AggregateID string    `json:"aggregate_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}
