package sharing

import (
	"crypto/rand"
	"fmt"
	"io"

	dErrors "vigil/pkg/domain-errors"
)

// MaxShares is bounded by the non-zero elements of GF(256).
const MaxShares = 255

// Scheme is a K-of-N threshold.
type Scheme struct {
	K int `json:"k"`
	N int `json:"n"`
}

var (
	// SchemeDefault is the 2-of-3 scheme new vaults use.
	SchemeDefault = Scheme{K: 2, N: 3}
	// SchemeLegacy is the 3-of-5 scheme older vaults were split under.
	SchemeLegacy = Scheme{K: 3, N: 5}
)

func (s Scheme) IsZero() bool { return s.K == 0 && s.N == 0 }

func (s Scheme) String() string {
	return fmt.Sprintf("%dof%d", s.K, s.N)
}

func (s Scheme) Validate() error {
	if s.K < 2 || s.K > s.N {
		return dErrors.New(dErrors.CodeInvalidInput, "threshold must satisfy 2 <= k <= n")
	}
	if s.N > MaxShares {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("at most %d shares are supported", MaxShares))
	}
	return nil
}

// Share is one point of the split polynomial, evaluated byte-wise.
// Scheme is zero for shares that arrived without a scheme tag.
type Share struct {
	Index   byte
	Payload []byte
	Scheme  Scheme
}

func (s Share) Tagged() bool { return !s.Scheme.IsZero() }

// Split divides secret into n shares, any k of which reconstruct it.
// Shares carry indices 1..n in order.
func Split(secret []byte, k, n int) ([]Share, error) {
	return SplitWithReader(rand.Reader, secret, k, n)
}

// SplitWithReader is Split with an explicit randomness source.
func SplitWithReader(r io.Reader, secret []byte, k, n int) ([]Share, error) {
	scheme := Scheme{K: k, N: n}
	if err := scheme.Validate(); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "secret must not be empty")
	}

	shares := make([]Share, n)
	for i := range shares {
		shares[i] = Share{
			Index:   byte(i + 1),
			Payload: make([]byte, len(secret)),
			Scheme:  scheme,
		}
	}

	coeffs := make([]byte, k)
	for pos, b := range secret {
		coeffs[0] = b
		if _, err := io.ReadFull(r, coeffs[1:]); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read randomness")
		}
		for i := range shares {
			shares[i].Payload[pos] = evalPoly(coeffs, shares[i].Index)
		}
	}
	clear(coeffs)
	return shares, nil
}

// InferScheme resolves the scheme shares were split under. Tagged shares
// must agree with each other; untagged sets are inferred from their count:
// exactly five shares is the legacy scheme, anything else the default.
func InferScheme(shares []Share) (Scheme, error) {
	var tagged Scheme
	for _, s := range shares {
		if !s.Tagged() {
			continue
		}
		if tagged.IsZero() {
			tagged = s.Scheme
			continue
		}
		if s.Scheme != tagged {
			return Scheme{}, dErrors.New(dErrors.CodeInvalidShareFormat, "shares carry different schemes")
		}
	}
	if !tagged.IsZero() {
		return tagged, nil
	}
	if len(shares) == SchemeLegacy.N {
		return SchemeLegacy, nil
	}
	return SchemeDefault, nil
}

// Combine reconstructs the secret from the first K shares in the order
// given. Shares from different splits of the same scheme are not detected
// and produce a wrong secret; verify the result against its digest.
func Combine(shares []Share) ([]byte, error) {
	scheme, err := InferScheme(shares)
	if err != nil {
		return nil, err
	}
	if len(shares) < scheme.K {
		return nil, dErrors.New(dErrors.CodeInsufficientShares,
			fmt.Sprintf("%s scheme needs %d shares, got %d", scheme, scheme.K, len(shares)))
	}
	used := shares[:scheme.K]
	if err := validateShares(used, scheme); err != nil {
		return nil, err
	}

	xs := make([]byte, len(used))
	for i, s := range used {
		xs[i] = s.Index
	}
	basis := lagrangeAtZero(xs)

	secret := make([]byte, len(used[0].Payload))
	for pos := range secret {
		var acc byte
		for i, s := range used {
			acc ^= gfMul(s.Payload[pos], basis[i])
		}
		secret[pos] = acc
	}
	return secret, nil
}

func validateShares(shares []Share, scheme Scheme) error {
	seen := make(map[byte]struct{}, len(shares))
	size := len(shares[0].Payload)
	for _, s := range shares {
		if s.Index == 0 {
			return dErrors.New(dErrors.CodeInvalidShareFormat, "share index must be at least 1")
		}
		if s.Tagged() && int(s.Index) > scheme.N {
			return dErrors.New(dErrors.CodeInvalidShareFormat,
				fmt.Sprintf("share index %d out of range for %s", s.Index, scheme))
		}
		if _, dup := seen[s.Index]; dup {
			return dErrors.New(dErrors.CodeInvalidShareFormat, fmt.Sprintf("duplicate share index %d", s.Index))
		}
		seen[s.Index] = struct{}{}
		if len(s.Payload) == 0 || len(s.Payload) != size {
			return dErrors.New(dErrors.CodeInvalidShareFormat, "share payloads must be non-empty and equal length")
		}
	}
	return nil
}

// lagrangeAtZero returns the basis coefficients l_i(0) for points xs.
func lagrangeAtZero(xs []byte) []byte {
	basis := make([]byte, len(xs))
	for i, xi := range xs {
		num, den := byte(1), byte(1)
		for j, xj := range xs {
			if i == j {
				continue
			}
			num = gfMul(num, xj)
			den = gfMul(den, xi^xj)
		}
		basis[i] = gfDiv(num, den)
	}
	return basis
}
