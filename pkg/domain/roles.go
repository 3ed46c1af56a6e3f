package domain

// Capability roles carried in access tokens.
const (
	// RoleVerifier may confirm a death (the verification oracle).
	RoleVerifier = "verifier"
	// RoleCollector may submit death verification events.
	RoleCollector = "collector"
	// RoleReviewer may resolve disputed verification events.
	RoleReviewer = "reviewer"
)

// CapabilityRoles lists every role a token may grant. Vault owners,
// guardians and beneficiaries are relationships on the vault, not roles.
var CapabilityRoles = []string{RoleVerifier, RoleCollector, RoleReviewer}
