package service

import (
	"context"

	id "vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// VerifierAuthority decides whether a caller may act as the death
// verification oracle.
type VerifierAuthority interface {
	CanVerify(ctx context.Context, caller id.UserID) bool
}

// RoleVerifier accepts callers holding the verifier role and an optional set
// of configured verifier identities (such as the consensus engine's own).
type RoleVerifier struct {
	ids map[id.UserID]struct{}
}

func NewRoleVerifier(ids ...id.UserID) *RoleVerifier {
	r := &RoleVerifier{ids: make(map[id.UserID]struct{}, len(ids))}
	for _, v := range ids {
		if !v.IsNil() {
			r.ids[v] = struct{}{}
		}
	}
	return r
}

func (r *RoleVerifier) CanVerify(ctx context.Context, caller id.UserID) bool {
	if caller.IsNil() {
		return false
	}
	if _, ok := r.ids[caller]; ok {
		return true
	}
	return requestcontext.HasRole(ctx, id.RoleVerifier)
}
