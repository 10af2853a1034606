package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"efile/internal/amendment"
	id "efile/pkg/domain"
	"efile/pkg/platform/sentinel"
	txcontext "efile/pkg/platform/tx"
)

// Store persists amendment records in PostgreSQL; changes and the diff are
// JSONB.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const columns = `id, original_submission_id, submission_id, changes, diff, created_at`

func (s *Store) Save(ctx context.Context, rec *amendment.Record) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	diff, err := json.Marshal(rec.Diff)
	if err != nil {
		return fmt.Errorf("marshal diff: %w", err)
	}
	_, err = txcontext.Or(ctx, s.db).ExecContext(ctx, `
		INSERT INTO amendments (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(rec.ID), uuid.UUID(rec.OriginalID), uuid.UUID(rec.SubmissionID), changes, diff, rec.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("insert amendment: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert amendment: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, amendmentID id.AmendmentID) (*amendment.Record, error) {
	row := txcontext.Or(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+columns+` FROM amendments WHERE id = $1`, uuid.UUID(amendmentID))
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

func (s *Store) ListByOriginal(ctx context.Context, original id.SubmissionID) ([]*amendment.Record, error) {
	rows, err := txcontext.Or(ctx, s.db).QueryContext(ctx,
		`SELECT `+columns+` FROM amendments WHERE original_submission_id = $1 ORDER BY created_at, id`,
		uuid.UUID(original))
	if err != nil {
		return nil, fmt.Errorf("list amendments: %w", err)
	}
	defer rows.Close()

	var out []*amendment.Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate amendments: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*amendment.Record, error) {
	var (
		rec                  amendment.Record
		recID, orig, amended uuid.UUID
		changes, diff        []byte
	)
	if err := row.Scan(&recID, &orig, &amended, &changes, &diff, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan amendment: %w", err)
	}
	rec.ID = id.AmendmentID(recID)
	rec.OriginalID = id.SubmissionID(orig)
	rec.SubmissionID = id.SubmissionID(amended)
	if err := json.Unmarshal(changes, &rec.Changes); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}
	if err := json.Unmarshal(diff, &rec.Diff); err != nil {
		return nil, fmt.Errorf("unmarshal diff: %w", err)
	}
	return &rec, nil
}
