package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"vigil/internal/attestation"
	"vigil/internal/vault/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
	txcontext "vigil/pkg/platform/tx"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists vaults in PostgreSQL. Execute locks the row with
// SELECT ... FOR UPDATE and joins a transaction already present in ctx.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// inTx runs fn in the ambient transaction or a new one.
func (s *PostgresStore) inTx(ctx context.Context, fn func(q querier) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vault tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vault tx: %w", err)
	}
	return nil
}

const vaultColumns = `
	id, owner_id, subject_id, beneficiaries, guardians, metadata_uri, secret_digest, scheme,
	check_in_interval, grace_period, status, last_check_in, last_check_in_channel,
	triggered_at, trigger_reason, verified_by, verified_at, claimed_by, claimed_at,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, v *models.Vault) error {
	return s.inTx(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `INSERT INTO vaults (`+vaultColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
			vaultArgs(v)...,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("vault %s: %w", v.ID, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert vault: %w", err)
		}
		return saveLedger(ctx, q, v)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, vaultID id.VaultID) (*models.Vault, error) {
	return load(ctx, s.q(ctx), vaultID, false)
}

func (s *PostgresStore) FindBySubject(ctx context.Context, subjectID id.SubjectID) ([]*models.Vault, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id FROM vaults WHERE subject_id = $1 ORDER BY created_at`, uuid.UUID(subjectID))
	if err != nil {
		return nil, fmt.Errorf("query vaults by subject: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var vid uuid.UUID
		if err := rows.Scan(&vid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan vault id: %w", err)
		}
		ids = append(ids, vid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault ids: %w", err)
	}

	out := make([]*models.Vault, 0, len(ids))
	for _, vid := range ids {
		v, err := s.FindByID(ctx, id.VaultID(vid))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *PostgresStore) Execute(ctx context.Context, vaultID id.VaultID, validate func(*models.Vault) error, mutate func(*models.Vault)) (*models.Vault, error) {
	var out *models.Vault
	err := s.inTx(ctx, func(q querier) error {
		v, err := load(ctx, q, vaultID, true)
		if err != nil {
			return err
		}
		if err := validate(v); err != nil {
			return err
		}
		mutate(v)
		if err := update(ctx, q, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func load(ctx context.Context, q querier, vaultID id.VaultID, forUpdate bool) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	v, err := scanVault(q.QueryRowContext(ctx, query, uuid.UUID(vaultID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("vault %s: %w", vaultID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("load vault: %w", err)
	}

	live, err := loadRecords(ctx, q, `SELECT guardian_id, attested_at FROM vault_attestations WHERE vault_id = $1`, vaultID)
	if err != nil {
		return nil, err
	}
	history, err := loadRecords(ctx, q, `SELECT guardian_id, last_attested_at FROM vault_attestation_history WHERE vault_id = $1`, vaultID)
	if err != nil {
		return nil, err
	}
	v.Attestations = attestation.Restore(live, history)
	return v, nil
}

func loadRecords(ctx context.Context, q querier, query string, vaultID id.VaultID) ([]attestation.Record, error) {
	rows, err := q.QueryContext(ctx, query, uuid.UUID(vaultID))
	if err != nil {
		return nil, fmt.Errorf("query attestations: %w", err)
	}
	defer rows.Close()
	var out []attestation.Record
	for rows.Next() {
		var (
			member uuid.UUID
			at     time.Time
		)
		if err := rows.Scan(&member, &at); err != nil {
			return nil, fmt.Errorf("scan attestation: %w", err)
		}
		out = append(out, attestation.Record{Member: id.UserID(member), At: at})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attestations: %w", err)
	}
	return out, nil
}

func update(ctx context.Context, q querier, v *models.Vault) error {
	args := vaultArgs(v)
	_, err := q.ExecContext(ctx, `UPDATE vaults SET
			status = $2, last_check_in = $3, last_check_in_channel = $4,
			triggered_at = $5, trigger_reason = $6, verified_by = $7, verified_at = $8,
			claimed_by = $9, claimed_at = $10, updated_at = $11
		WHERE id = $1`,
		args[0], args[10], args[11], args[12], args[13], args[14], args[15], args[16], args[17], args[18], args[20],
	)
	if err != nil {
		return fmt.Errorf("update vault: %w", err)
	}
	return saveLedger(ctx, q, v)
}

func saveLedger(ctx context.Context, q querier, v *models.Vault) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM vault_attestations WHERE vault_id = $1`, uuid.UUID(v.ID)); err != nil {
		return fmt.Errorf("clear attestations: %w", err)
	}
	for _, r := range v.Attestations.Live() {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO vault_attestations (vault_id, guardian_id, attested_at) VALUES ($1, $2, $3)`,
			uuid.UUID(v.ID), uuid.UUID(r.Member), r.At,
		); err != nil {
			return fmt.Errorf("insert attestation: %w", err)
		}
	}
	for _, r := range v.Attestations.History() {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO vault_attestation_history (vault_id, guardian_id, last_attested_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (vault_id, guardian_id) DO UPDATE SET last_attested_at = EXCLUDED.last_attested_at`,
			uuid.UUID(v.ID), uuid.UUID(r.Member), r.At,
		); err != nil {
			return fmt.Errorf("upsert attestation history: %w", err)
		}
	}
	return nil
}

// vaultArgs returns column values in vaultColumns order.
func vaultArgs(v *models.Vault) []any {
	var (
		verifiedBy, claimedBy *uuid.UUID
		verifiedAt, claimedAt *time.Time
	)
	if v.Verification != nil {
		vb := uuid.UUID(v.Verification.VerifierID)
		verifiedBy, verifiedAt = &vb, &v.Verification.VerifiedAt
	}
	if v.Claim != nil {
		cb := uuid.UUID(v.Claim.BeneficiaryID)
		claimedBy, claimedAt = &cb, &v.Claim.ClaimedAt
	}
	return []any{
		uuid.UUID(v.ID),
		uuid.UUID(v.OwnerID),
		uuid.UUID(v.SubjectID),
		pq.Array(userIDStrings(v.Beneficiaries)),
		pq.Array(userIDStrings(v.Guardians)),
		v.MetadataURI,
		v.SecretDigest,
		v.Scheme,
		int64(v.CheckInEvery),
		int64(v.GracePeriod),
		string(v.Status),
		v.LastCheckIn,
		string(v.CheckInChannel),
		v.TriggeredAt,
		v.TriggerReason,
		verifiedBy,
		verifiedAt,
		claimedBy,
		claimedAt,
		v.CreatedAt,
		v.UpdatedAt,
	}
}

func scanVault(row *sql.Row) (*models.Vault, error) {
	var (
		v                        models.Vault
		vaultID, owner, subject  uuid.UUID
		beneficiaries, guardians []string
		interval, grace          int64
		status, channel          string
		triggeredAt              sql.NullTime
		verifiedBy, claimedBy    uuid.NullUUID
		verifiedAt, claimedAt    sql.NullTime
	)
	err := row.Scan(
		&vaultID, &owner, &subject,
		pq.Array(&beneficiaries), pq.Array(&guardians),
		&v.MetadataURI, &v.SecretDigest, &v.Scheme,
		&interval, &grace, &status, &v.LastCheckIn, &channel,
		&triggeredAt, &v.TriggerReason, &verifiedBy, &verifiedAt, &claimedBy, &claimedAt,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.ID = id.VaultID(vaultID)
	v.OwnerID = id.UserID(owner)
	v.SubjectID = id.SubjectID(subject)
	if v.Beneficiaries, err = parseUserIDs(beneficiaries); err != nil {
		return nil, err
	}
	if v.Guardians, err = parseUserIDs(guardians); err != nil {
		return nil, err
	}
	v.CheckInEvery = time.Duration(interval)
	v.GracePeriod = time.Duration(grace)
	v.Status = models.Status(status)
	v.CheckInChannel = models.CheckInChannel(channel)
	if triggeredAt.Valid {
		t := triggeredAt.Time
		v.TriggeredAt = &t
	}
	if verifiedBy.Valid && verifiedAt.Valid {
		v.Verification = &models.Verification{
			SubjectID:  v.SubjectID,
			VerifierID: id.UserID(verifiedBy.UUID),
			VerifiedAt: verifiedAt.Time,
		}
	}
	if claimedBy.Valid && claimedAt.Valid {
		v.Claim = &models.ClaimRecord{BeneficiaryID: id.UserID(claimedBy.UUID), ClaimedAt: claimedAt.Time}
	}
	return &v, nil
}

func userIDStrings(ids []id.UserID) []string {
	out := make([]string, len(ids))
	for i, u := range ids {
		out[i] = u.String()
	}
	return out
}

func parseUserIDs(raw []string) ([]id.UserID, error) {
	out := make([]id.UserID, len(raw))
	for i, s := range raw {
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse member id: %w", err)
		}
		out[i] = id.UserID(u)
	}
	return out, nil
}
