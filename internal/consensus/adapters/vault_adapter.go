package adapters

import (
	"context"

	id "vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// VaultAuthority is the vault service call the engine forwards to.
type VaultAuthority interface {
	VerifySubject(ctx context.Context, subject id.SubjectID) (int, error)
}

// VaultAdapter is an in-process adapter that forwards verify_death to the
// vault service under the engine's own verifier identity. The authority
// checks that identity like any other verifier; splitting the engine into
// its own process only needs a remote adapter with the same method.
type VaultAdapter struct {
	authority VaultAuthority
	engineID  id.UserID
	roles     []string
}

func NewVaultAdapter(authority VaultAuthority, engineID id.UserID, roles ...string) *VaultAdapter {
	return &VaultAdapter{authority: authority, engineID: engineID, roles: roles}
}

func (a *VaultAdapter) VerifySubject(ctx context.Context, subject id.SubjectID) (int, error) {
	ctx = requestcontext.WithUserID(ctx, a.engineID)
	if len(a.roles) > 0 {
		ctx = requestcontext.WithRoles(ctx, a.roles...)
	}
	return a.authority.VerifySubject(ctx, subject)
}
