package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "vigil/pkg/domain-errors"
)

// TestParseUUID_Invariants: IDs must be valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseVaultID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseVaultID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseVaultID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseVaultID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, VaultID(validUUID), id)
		assert.False(t, id.IsNil())
	})
}

func TestParseID_RejectsHostileInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE vaults;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "550e8400​-e29b-41d4-a716-446655440000", true},
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUserID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	parsers := map[string]func(string) error{
		"vault":    func(s string) error { _, err := ParseVaultID(s); return err },
		"user":     func(s string) error { _, err := ParseUserID(s); return err },
		"subject":  func(s string) error { _, err := ParseSubjectID(s); return err },
		"wallet":   func(s string) error { _, err := ParseWalletID(s); return err },
		"recovery": func(s string) error { _, err := ParseRecoveryID(s); return err },
		"event":    func(s string) error { _, err := ParseEventID(s); return err },
	}

	validUUID := uuid.New().String()
	for name, parse := range parsers {
		t.Run(name+" accepts valid UUID", func(t *testing.T) {
			require.NoError(t, parse(validUUID))
		})
		for _, input := range []string{"", "invalid", uuid.Nil.String()} {
			t.Run(name+" rejects "+input, func(t *testing.T) {
				require.Error(t, parse(input))
			})
		}
	}
}

func TestParseEvidenceSource(t *testing.T) {
	src, err := ParseEvidenceSource("certificate")
	require.NoError(t, err)
	assert.True(t, src.IsCertificate())

	_, err = ParseEvidenceSource("rumour")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = ParseEvidenceSource("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestIDsMarshalAsCanonicalText(t *testing.T) {
	raw := uuid.New()
	b, err := json.Marshal(struct {
		Vault VaultID `json:"vault"`
	}{VaultID(raw)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"vault":"`+raw.String()+`"}`, string(b))

	var out struct {
		Vault VaultID `json:"vault"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, VaultID(raw), out.Vault)
}
