package jwttoken

import (
	"slices"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	authmw "vigil/pkg/platform/middleware/auth"
)

// JWTServiceAdapter exposes JWTService through the middleware's validator
// port. The caller id must parse and agree with the token subject; roles the
// platform does not grant are dropped rather than trusted.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if _, err := id.ParseUserID(claims.UserID); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no valid caller id")
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token subject does not match caller")
	}
	roles := slices.DeleteFunc(slices.Clone(claims.Roles), func(r string) bool {
		return !slices.Contains(id.CapabilityRoles, r)
	})
	return &authmw.JWTClaims{UserID: claims.UserID, Roles: roles}, nil
}
