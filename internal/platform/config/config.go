package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server captures process-level configuration. Empty connection strings
// select the in-memory implementations.
type Server struct {
	Addr          string `env:"VIGIL_ADDR" envDefault:":8080"`
	Environment   string `env:"VIGIL_ENV" envDefault:"dev"`
	LogLevel      string `env:"VIGIL_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"VIGIL_LOG_FORMAT" envDefault:"json"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"vigil"`
	JWTAudience   string `env:"JWT_AUDIENCE" envDefault:"vigil-api"`
	OperatorToken string `env:"VIGIL_OPERATOR_TOKEN"`

	// JWTLeeway tolerates clock skew with the token issuer.
	JWTLeeway time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`

	// RequestTimeout bounds each authenticated API request.
	RequestTimeout time.Duration `env:"VIGIL_REQUEST_TIMEOUT" envDefault:"30s"`

	// VerifierIDs lists the user ids allowed to confirm deaths in addition
	// to holders of the verifier role.
	VerifierIDs []string `env:"VIGIL_VERIFIER_IDS" envSeparator:","`

	Vault     VaultConfig
	Recovery  RecoveryConfig
	Consensus ConsensusConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Pebble    PebbleConfig
	Sources   SourcesConfig
	Audit     AuditConfig
}

// VaultConfig holds the time gates of the vault authority.
type VaultConfig struct {
	AttestationCooldown time.Duration `env:"VAULT_ATTESTATION_COOLDOWN" envDefault:"24h"`
	EmergencyWindow     time.Duration `env:"VAULT_EMERGENCY_WINDOW" envDefault:"168h"`
	VerificationDelay   time.Duration `env:"VAULT_VERIFICATION_DELAY" envDefault:"168h"`
}

type RecoveryConfig struct {
	Timelock time.Duration `env:"RECOVERY_TIMELOCK" envDefault:"168h"`
}

type ConsensusConfig struct {
	BatchInterval time.Duration `env:"CONSENSUS_BATCH_INTERVAL" envDefault:"30s"`
	BatchSize     int           `env:"CONSENSUS_BATCH_SIZE" envDefault:"100"`
	Concurrency   int           `env:"CONSENSUS_CONCURRENCY" envDefault:"8"`
	RetryBudget   int           `env:"CONSENSUS_RETRY_BUDGET" envDefault:"5"`
	PollInterval  time.Duration `env:"CONSENSUS_POLL_INTERVAL" envDefault:"1h"`

	// WaitRecheck bounds how long a subject waiting on an untriggered vault
	// sits before it is evaluated again without a trigger.
	WaitRecheck time.Duration `env:"CONSENSUS_WAIT_RECHECK" envDefault:"1h"`

	// EngineID is the identity the engine uses when forwarding verify_death
	// to the vault authority. It is added to the verifier allowlist.
	EngineID string `env:"CONSENSUS_ENGINE_ID" envDefault:"00000000-0000-4000-8000-00000000e001"`
}

type PostgresConfig struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	StateTTL     time.Duration `env:"REDIS_CONSENSUS_STATE_TTL" envDefault:"24h"`

	// KeyPrefix namespaces every key so several deployments can share an
	// instance.
	KeyPrefix       string `env:"REDIS_KEY_PREFIX" envDefault:"vigil"`
	ConnectAttempts int    `env:"REDIS_CONNECT_ATTEMPTS" envDefault:"5"`
}

type KafkaConfig struct {
	Brokers            []string      `env:"KAFKA_BROKERS" envSeparator:","`
	NotificationTopic  string        `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"vigil.vault.status"`
	ConsumerGroup      string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"vigil-audit"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
}

type AuditConfig struct {
	// EngineSampleRate thins evidence and evaluation ops events. Vault and
	// recovery activity is always kept.
	EngineSampleRate float64 `env:"AUDIT_ENGINE_SAMPLE_RATE" envDefault:"0.1"`
}

type PebbleConfig struct {
	// Path of the verification event log. Empty keeps the log in memory.
	Path string `env:"PEBBLE_PATH"`
}

// SourcesConfig points at the external death evidence providers. An empty
// URL disables that source.
type SourcesConfig struct {
	RegistryURL            string        `env:"REGISTRY_URL"`
	RegistryAPIKey         string        `env:"REGISTRY_API_KEY"`
	ObituaryFeedURL        string        `env:"OBITUARY_FEED_URL"`
	CertificateURL         string        `env:"CERTIFICATE_ORDER_URL"`
	CertificateCallbackURL string        `env:"CERTIFICATE_CALLBACK_URL"`
	RequestTimeout         time.Duration `env:"SOURCE_REQUEST_TIMEOUT" envDefault:"10s"`
	BreakerFailures        int           `env:"SOURCE_BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown        time.Duration `env:"SOURCE_BREAKER_COOLDOWN" envDefault:"1m"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FromEnv builds the server config so main stays lean.
func FromEnv() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// IsProduction reports whether dev defaults must be rejected.
func (s Server) IsProduction() bool {
	return s.Environment == "prod" || s.Environment == "production"
}

// Validate rejects configurations that are unsafe outside development.
func (s Server) Validate() error {
	if s.IsProduction() && s.JWTSigningKey == "dev-secret-key-change-in-production" {
		return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
	}
	if s.Vault.AttestationCooldown <= 0 || s.Vault.EmergencyWindow <= 0 || s.Vault.VerificationDelay < 0 {
		return fmt.Errorf("vault time gates must be positive")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if s.JWTLeeway < 0 {
		return fmt.Errorf("jwt leeway must not be negative")
	}
	if s.Recovery.Timelock <= 0 {
		return fmt.Errorf("recovery timelock must be positive")
	}
	if s.Audit.EngineSampleRate < 0 || s.Audit.EngineSampleRate > 1 {
		return fmt.Errorf("audit engine sample rate must be within [0, 1]")
	}
	if s.Consensus.Concurrency <= 0 || s.Consensus.BatchSize <= 0 {
		return fmt.Errorf("consensus concurrency and batch size must be positive")
	}
	return nil
}
