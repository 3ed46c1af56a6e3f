package sharing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "vigil/pkg/domain-errors"
)

func TestGF256(t *testing.T) {
	for a := 1; a < 256; a++ {
		for _, b := range []byte{1, 2, 3, 0x53, 0xca, 0xff} {
			p := gfMul(byte(a), b)
			assert.Equal(t, byte(a), gfDiv(p, b), "a=%d b=%d", a, b)
		}
	}
	// 0x53 and 0xca are inverses under the AES polynomial.
	assert.Equal(t, byte(1), gfMul(0x53, 0xca))
}

// subsets calls fn with every k-element subset of 0..n-1 in ascending order.
func subsets(n, k int, fn func([]int)) {
	idx := make([]int, k)
	var rec func(start, depth int)
	rec = func(start, depth int) {
		if depth == k {
			fn(append([]int(nil), idx...))
			return
		}
		for i := start; i < n; i++ {
			idx[depth] = i
			rec(i+1, depth+1)
		}
	}
	rec(0, 0)
}

func TestSplitCombine_AnySubsetReconstructs(t *testing.T) {
	secret := []byte("abandon ability able about above absent absorb abstract")
	for n := 2; n <= 10; n++ {
		for k := 2; k <= n; k++ {
			shares, err := Split(secret, k, n)
			require.NoError(t, err)
			require.Len(t, shares, n)

			subsets(n, k, func(pick []int) {
				chosen := make([]Share, 0, k)
				// reverse order to show caller order does not matter
				for i := len(pick) - 1; i >= 0; i-- {
					chosen = append(chosen, shares[pick[i]])
				}
				got, err := Combine(chosen)
				require.NoError(t, err)
				require.True(t, bytes.Equal(secret, got), "k=%d n=%d pick=%v", k, n, pick)
			})
		}
	}
}

func TestCombine_InsufficientShares(t *testing.T) {
	secret := []byte("s3cret")
	for n := 2; n <= 10; n++ {
		for k := 2; k <= n; k++ {
			shares, err := Split(secret, k, n)
			require.NoError(t, err)
			for m := 0; m < k; m++ {
				_, err := Combine(shares[:m])
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientShares), "k=%d n=%d m=%d", k, n, m)
			}
		}
	}
}

func TestSplit_Validation(t *testing.T) {
	cases := []struct {
		name   string
		secret []byte
		k, n   int
	}{
		{"threshold below two", []byte("x"), 1, 3},
		{"threshold above total", []byte("x"), 4, 3},
		{"too many shares", []byte("x"), 2, 256},
		{"empty secret", nil, 2, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split(tc.secret, tc.k, tc.n)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestSplit_IndicesAndScheme(t *testing.T) {
	shares, err := Split([]byte("x"), 3, 5)
	require.NoError(t, err)
	for i, s := range shares {
		assert.Equal(t, byte(i+1), s.Index)
		assert.Equal(t, SchemeLegacy, s.Scheme)
	}
}

func TestCombine_NonAdjacentPair(t *testing.T) {
	secret := "correct horse battery staple"
	shares, err := Split([]byte(secret), 2, 3)
	require.NoError(t, err)

	got, err := Combine([]Share{shares[0], shares[2]})
	require.NoError(t, err)
	assert.Equal(t, secret, string(got))
}

func TestCombine_UsesFirstKInCallerOrder(t *testing.T) {
	secret := []byte("first k wins")
	shares, err := Split(secret, 2, 3)
	require.NoError(t, err)

	other, err := Split([]byte("another secret"), 2, 3)
	require.NoError(t, err)

	// the trailing share is ignored even though it belongs to another split
	got, err := Combine([]Share{shares[1], shares[2], other[0]})
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestCombine_SchemeInference(t *testing.T) {
	untag := func(in []Share) []Share {
		out := make([]Share, len(in))
		for i, s := range in {
			out[i] = Share{Index: s.Index, Payload: s.Payload}
		}
		return out
	}

	t.Run("five untagged shares use the legacy scheme", func(t *testing.T) {
		secret := []byte("legacy vault phrase")
		shares, err := Split(secret, 3, 5)
		require.NoError(t, err)

		plain := untag(shares)
		scheme, err := InferScheme(plain)
		require.NoError(t, err)
		assert.Equal(t, SchemeLegacy, scheme)

		got, err := Combine(plain)
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	})

	t.Run("two untagged shares use the default scheme with either pairing", func(t *testing.T) {
		secret := []byte("default vault phrase")
		shares, err := Split(secret, 2, 3)
		require.NoError(t, err)
		plain := untag(shares)

		for _, pair := range [][2]int{{0, 1}, {0, 2}, {1, 2}, {2, 0}} {
			got, err := Combine([]Share{plain[pair[0]], plain[pair[1]]})
			require.NoError(t, err)
			assert.Equal(t, secret, got)
		}
	})

	t.Run("mixed scheme tags are rejected", func(t *testing.T) {
		a, err := Split([]byte("a"), 2, 3)
		require.NoError(t, err)
		b, err := Split([]byte("b"), 3, 5)
		require.NoError(t, err)

		_, err = Combine([]Share{a[0], b[1], b[2]})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidShareFormat))
	})
}

func TestCombine_StructuralErrors(t *testing.T) {
	shares, err := Split([]byte("payload"), 2, 3)
	require.NoError(t, err)

	t.Run("duplicate index", func(t *testing.T) {
		_, err := Combine([]Share{shares[0], shares[0]})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidShareFormat))
	})

	t.Run("length mismatch", func(t *testing.T) {
		short := shares[1]
		short.Payload = short.Payload[:3]
		_, err := Combine([]Share{shares[0], short})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidShareFormat))
	})

	t.Run("zero index", func(t *testing.T) {
		bad := Share{Index: 0, Payload: shares[1].Payload}
		_, err := Combine([]Share{shares[0], bad})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidShareFormat))
	})
}

func TestDigest(t *testing.T) {
	secret := []byte("correct horse battery staple")
	d := Digest(secret)

	assert.True(t, IsDigest(d))
	assert.True(t, VerifyDigest(secret, d))
	assert.False(t, VerifyDigest([]byte("wrong"), d))
	assert.False(t, VerifyDigest(secret, "sha256:abc"))
	assert.False(t, IsDigest("blake3:zz"))

	// mixed-secret shares reconstruct garbage that the digest catches
	a, err := Split(secret, 2, 3)
	require.NoError(t, err)
	b, err := Split(secret, 2, 3)
	require.NoError(t, err)
	mixed, err := Combine([]Share{a[0], b[1]})
	require.NoError(t, err)
	assert.False(t, VerifyDigest(mixed, d))
}
