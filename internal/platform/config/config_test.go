package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Vault.AttestationCooldown)
	assert.Equal(t, 7*24*time.Hour, cfg.Vault.EmergencyWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.Vault.VerificationDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Recovery.Timelock)
	assert.Equal(t, 30*time.Second, cfg.Consensus.BatchInterval)
	assert.Equal(t, time.Hour, cfg.Consensus.WaitRecheck)
	assert.Empty(t, cfg.Postgres.DSN)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("VAULT_VERIFICATION_DELAY", "72h")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("VIGIL_VERIFIER_IDS", "11111111-1111-1111-1111-111111111111")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.Vault.VerificationDelay)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Len(t, cfg.VerifierIDs, 1)
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("CONSENSUS_BATCH_SIZE", "not-an-int")

	_, err := FromEnv()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "parse env:"))
}

func TestValidateRejectsDevKeyInProduction(t *testing.T) {
	t.Setenv("VIGIL_ENV", "production")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSampleRateOutOfRange(t *testing.T) {
	t.Setenv("AUDIT_ENGINE_SAMPLE_RATE", "1.5")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "sample rate")
}
