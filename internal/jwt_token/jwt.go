package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/strings"
)

// Claims are the access token claims. Roles grant capabilities such as
// death verification.
type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 access tokens. Tokens without an
// expiry are rejected.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	leeway     time.Duration
	now        func() time.Time
}

type Option func(*JWTService)

// WithLeeway tolerates clock skew between the issuer and this service.
func WithLeeway(d time.Duration) Option {
	return func(s *JWTService) { s.leeway = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *JWTService) { s.now = now }
}

func NewJWTService(signingKey, issuer, audience string, opts ...Option) *JWTService {
	s := &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JWTService) GenerateAccessToken(userID uuid.UUID, roles []string, expiresIn time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID.String(),
		Roles:  strings.DedupeAndTrimLower(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token is not valid yet")
	default:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
}
