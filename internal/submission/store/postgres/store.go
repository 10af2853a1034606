package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"efile/internal/forms"
	"efile/internal/submission/models"
	id "efile/pkg/domain"
	"efile/pkg/platform/sentinel"
	txcontext "efile/pkg/platform/tx"
)

// Store persists submissions in PostgreSQL. History and error details are
// JSONB; writes join the transaction carried by ctx.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const columns = `id, form_type, tax_year, status, transmission_attempts, retry_count,
	xml_content, envelope_document, envelope_signature, envelope_certificate,
	acknowledgment_data, error_details, history, amendment_of, resubmission_of,
	next_attempt_at, created_at, updated_at`

func (s *Store) Save(ctx context.Context, rec *models.Submission) error {
	args, err := toArgs(rec)
	if err != nil {
		return err
	}
	_, err = txcontext.Or(ctx, s.db).ExecContext(ctx, `
		INSERT INTO submissions (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		args...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("insert submission: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, subID id.SubmissionID) (*models.Submission, error) {
	row := txcontext.Or(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+columns+` FROM submissions WHERE id = $1`, uuid.UUID(subID))
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

// UpdateStatus writes every mutable column when the stored status equals from.
func (s *Store) UpdateStatus(ctx context.Context, rec *models.Submission, from models.Status) error {
	args, err := toArgs(rec)
	if err != nil {
		return err
	}
	res, err := txcontext.Or(ctx, s.db).ExecContext(ctx, `
		UPDATE submissions SET
			status = $4, transmission_attempts = $5, retry_count = $6,
			xml_content = $7, envelope_document = $8, envelope_signature = $9, envelope_certificate = $10,
			acknowledgment_data = $11, error_details = $12, history = $13,
			next_attempt_at = $16, updated_at = $18
		WHERE id = $1 AND status = $19`,
		append(args, string(from))...)
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := txcontext.Or(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE id = $1)`, uuid.UUID(rec.ID)).Scan(&exists); err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *Store) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.Submission, error) {
	query := `SELECT ` + columns + ` FROM submissions WHERE status = $1 ORDER BY created_at, id`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := txcontext.Or(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []*models.Submission
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// toArgs orders values as in columns; positions matter to UpdateStatus.
func toArgs(rec *models.Submission) ([]any, error) {
	history, err := json.Marshal(rec.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	var details []byte
	if rec.ErrorDetails != nil {
		if details, err = json.Marshal(rec.ErrorDetails); err != nil {
			return nil, fmt.Errorf("marshal error details: %w", err)
		}
	}
	return []any{
		uuid.UUID(rec.ID),
		string(rec.FormType),
		rec.TaxYear,
		string(rec.Status),
		rec.TransmissionAttempts,
		rec.RetryCount,
		rec.XMLContent,
		rec.Envelope.Document,
		rec.Envelope.Signature,
		rec.Envelope.Certificate,
		rec.AcknowledgmentData,
		nullJSON(details),
		history,
		nullID(rec.AmendmentOf),
		nullID(rec.ResubmissionOf),
		rec.NextAttemptAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.Submission, error) {
	var (
		rec            models.Submission
		subID          uuid.UUID
		formType       string
		status         string
		details        []byte
		history        []byte
		amendmentOf    uuid.NullUUID
		resubmissionOf uuid.NullUUID
		nextAttempt    sql.NullTime
	)
	err := row.Scan(&subID, &formType, &rec.TaxYear, &status, &rec.TransmissionAttempts, &rec.RetryCount,
		&rec.XMLContent, &rec.Envelope.Document, &rec.Envelope.Signature, &rec.Envelope.Certificate,
		&rec.AcknowledgmentData, &details, &history, &amendmentOf, &resubmissionOf,
		&nextAttempt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	rec.ID = id.SubmissionID(subID)
	rec.FormType = forms.FormType(formType)
	rec.Status = models.Status(status)
	if len(details) > 0 {
		rec.ErrorDetails = &models.ErrorDetails{}
		if err := json.Unmarshal(details, rec.ErrorDetails); err != nil {
			return nil, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	if err := json.Unmarshal(history, &rec.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	rec.AmendmentOf = fromNullID(amendmentOf)
	rec.ResubmissionOf = fromNullID(resubmissionOf)
	if nextAttempt.Valid {
		t := nextAttempt.Time
		rec.NextAttemptAt = &t
	}
	return &rec, nil
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func nullID(subID *id.SubmissionID) uuid.NullUUID {
	if subID == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*subID), Valid: true}
}

func fromNullID(n uuid.NullUUID) *id.SubmissionID {
	if !n.Valid {
		return nil
	}
	v := id.SubmissionID(n.UUID)
	return &v
}
