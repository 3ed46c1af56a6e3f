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
	"vigil/internal/recovery/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
	txcontext "vigil/pkg/platform/tx"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists recoveries. Execute holds the row lock for the
// duration of validate and mutate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(q querier) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recovery tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recovery tx: %w", err)
	}
	return nil
}

const recoveryColumns = `id, wallet_id, owner_id, keys, payload, status, triggered_at, completed_at, completed_by, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *models.Recovery) error {
	return s.inTx(ctx, func(q querier) error {
		var completedBy *uuid.UUID
		if !r.CompletedBy.IsNil() {
			cb := uuid.UUID(r.CompletedBy)
			completedBy = &cb
		}
		_, err := q.ExecContext(ctx, `INSERT INTO recoveries (`+recoveryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			uuid.UUID(r.ID), uuid.UUID(r.WalletID), uuid.UUID(r.OwnerID),
			pq.Array(keyStrings(r.Keys)), r.Payload, string(r.Status),
			r.TriggeredAt, r.CompletedAt, completedBy, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("recovery %s: %w", r.ID, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert recovery: %w", err)
		}
		return saveLedger(ctx, q, r)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, recoveryID id.RecoveryID) (*models.Recovery, error) {
	var q querier = s.db
	if tx, ok := txcontext.From(ctx); ok {
		q = tx
	}
	return load(ctx, q, recoveryID, false)
}

func (s *PostgresStore) Execute(ctx context.Context, recoveryID id.RecoveryID, validate func(*models.Recovery) error, mutate func(*models.Recovery)) (*models.Recovery, error) {
	var out *models.Recovery
	err := s.inTx(ctx, func(q querier) error {
		r, err := load(ctx, q, recoveryID, true)
		if err != nil {
			return err
		}
		if err := validate(r); err != nil {
			return err
		}
		mutate(r)

		var completedBy *uuid.UUID
		if !r.CompletedBy.IsNil() {
			cb := uuid.UUID(r.CompletedBy)
			completedBy = &cb
		}
		if _, err := q.ExecContext(ctx, `UPDATE recoveries SET
				status = $2, triggered_at = $3, completed_at = $4, completed_by = $5, updated_at = $6
			WHERE id = $1`,
			uuid.UUID(r.ID), string(r.Status), r.TriggeredAt, r.CompletedAt, completedBy, r.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update recovery: %w", err)
		}
		if err := saveLedger(ctx, q, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func load(ctx context.Context, q querier, recoveryID id.RecoveryID, forUpdate bool) (*models.Recovery, error) {
	query := `SELECT ` + recoveryColumns + ` FROM recoveries WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		r                        models.Recovery
		rid, wallet, owner       uuid.UUID
		keys                     []string
		status                   string
		triggeredAt, completedAt sql.NullTime
		completedBy              uuid.NullUUID
	)
	err := q.QueryRowContext(ctx, query, uuid.UUID(recoveryID)).Scan(
		&rid, &wallet, &owner, pq.Array(&keys), &r.Payload, &status,
		&triggeredAt, &completedAt, &completedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("recovery %s: %w", recoveryID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("load recovery: %w", err)
	}
	r.ID = id.RecoveryID(rid)
	r.WalletID = id.WalletID(wallet)
	r.OwnerID = id.UserID(owner)
	r.Status = models.Status(status)
	r.Keys = make([]id.UserID, len(keys))
	for i, k := range keys {
		u, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("parse recovery key: %w", err)
		}
		r.Keys[i] = id.UserID(u)
	}
	if triggeredAt.Valid {
		t := triggeredAt.Time
		r.TriggeredAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if completedBy.Valid {
		r.CompletedBy = id.UserID(completedBy.UUID)
	}

	live, err := loadRecords(ctx, q, `SELECT key_id, attested_at FROM recovery_attestations WHERE recovery_id = $1`, recoveryID)
	if err != nil {
		return nil, err
	}
	history, err := loadRecords(ctx, q, `SELECT key_id, last_attested_at FROM recovery_attestation_history WHERE recovery_id = $1`, recoveryID)
	if err != nil {
		return nil, err
	}
	r.Attestations = attestation.Restore(live, history)
	return &r, nil
}

func loadRecords(ctx context.Context, q querier, query string, recoveryID id.RecoveryID) ([]attestation.Record, error) {
	rows, err := q.QueryContext(ctx, query, uuid.UUID(recoveryID))
	if err != nil {
		return nil, fmt.Errorf("query recovery attestations: %w", err)
	}
	defer rows.Close()
	var out []attestation.Record
	for rows.Next() {
		var (
			key uuid.UUID
			at  time.Time
		)
		if err := rows.Scan(&key, &at); err != nil {
			return nil, fmt.Errorf("scan recovery attestation: %w", err)
		}
		out = append(out, attestation.Record{Member: id.UserID(key), At: at})
	}
	return out, rows.Err()
}

func saveLedger(ctx context.Context, q querier, r *models.Recovery) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM recovery_attestations WHERE recovery_id = $1`, uuid.UUID(r.ID)); err != nil {
		return fmt.Errorf("clear recovery attestations: %w", err)
	}
	for _, rec := range r.Attestations.Live() {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO recovery_attestations (recovery_id, key_id, attested_at) VALUES ($1, $2, $3)`,
			uuid.UUID(r.ID), uuid.UUID(rec.Member), rec.At,
		); err != nil {
			return fmt.Errorf("insert recovery attestation: %w", err)
		}
	}
	for _, rec := range r.Attestations.History() {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO recovery_attestation_history (recovery_id, key_id, last_attested_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (recovery_id, key_id) DO UPDATE SET last_attested_at = EXCLUDED.last_attested_at`,
			uuid.UUID(r.ID), uuid.UUID(rec.Member), rec.At,
		); err != nil {
			return fmt.Errorf("upsert recovery attestation history: %w", err)
		}
	}
	return nil
}

func keyStrings(keys []id.UserID) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
