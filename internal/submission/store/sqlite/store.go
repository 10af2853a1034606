// Package sqlite stores submissions in SQLite through gorm, for single-node
// deployments and local development.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"efile/internal/forms"
	"efile/internal/signer"
	"efile/internal/submission/models"
	id "efile/pkg/domain"
	"efile/pkg/platform/sentinel"
)

// submissionRow is the table layout. Timestamps are stored as UTC.
type submissionRow struct {
	ID                   string `gorm:"primaryKey;size:36"`
	FormType             string `gorm:"size:64;not null"`
	TaxYear              int
	Status               string `gorm:"size:16;not null;index:idx_status_created,priority:1"`
	TransmissionAttempts int
	RetryCount           int
	XMLContent           []byte
	EnvelopeDocument     []byte
	EnvelopeSignature    []byte
	EnvelopeCertificate  []byte
	AcknowledgmentData   []byte
	ErrorDetails         []byte
	History              []byte  `gorm:"not null"`
	AmendmentOf          *string `gorm:"size:36;index"`
	ResubmissionOf       *string `gorm:"size:36;index"`
	NextAttemptAt        *time.Time
	CreatedAt            time.Time `gorm:"index:idx_status_created,priority:2;autoCreateTime:false"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime:false"`
}

func (submissionRow) TableName() string {
	return "submissions"
}

type Store struct {
	db *gorm.DB
}

// Open opens path, or a private in-memory database when path is empty, and
// migrates the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps a private in-memory database alive
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxIdleTime(0)
	return New(db)
}

// New migrates and wraps an existing gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&submissionRow{}); err != nil {
		return nil, fmt.Errorf("migrate submissions: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Save(ctx context.Context, rec *models.Submission) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&submissionRow{}).Where("id = ?", row.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		if count > 0 {
			return sentinel.ErrConflict
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		return nil
	})
}

func (s *Store) Load(ctx context.Context, subID id.SubmissionID) (*models.Submission, error) {
	var row submissionRow
	err := s.db.WithContext(ctx).Where("id = ?", subID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	return fromRow(&row)
}

func (s *Store) UpdateStatus(ctx context.Context, rec *models.Submission, from models.Status) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&submissionRow{}).
		Where("id = ? AND status = ?", row.ID, string(from)).
		Updates(map[string]any{
			"status":                row.Status,
			"transmission_attempts": row.TransmissionAttempts,
			"retry_count":           row.RetryCount,
			"xml_content":           row.XMLContent,
			"envelope_document":     row.EnvelopeDocument,
			"envelope_signature":    row.EnvelopeSignature,
			"envelope_certificate":  row.EnvelopeCertificate,
			"acknowledgment_data":   row.AcknowledgmentData,
			"error_details":         row.ErrorDetails,
			"history":               row.History,
			"next_attempt_at":       row.NextAttemptAt,
			"updated_at":            row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update submission status: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&submissionRow{}).Where("id = ?", row.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if count == 0 {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *Store) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.Submission, error) {
	q := s.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []submissionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]*models.Submission, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRow(rec *models.Submission) (*submissionRow, error) {
	history, err := json.Marshal(rec.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	row := &submissionRow{
		ID:                   rec.ID.String(),
		FormType:             string(rec.FormType),
		TaxYear:              rec.TaxYear,
		Status:               string(rec.Status),
		TransmissionAttempts: rec.TransmissionAttempts,
		RetryCount:           rec.RetryCount,
		XMLContent:           rec.XMLContent,
		EnvelopeDocument:     rec.Envelope.Document,
		EnvelopeSignature:    rec.Envelope.Signature,
		EnvelopeCertificate:  rec.Envelope.Certificate,
		AcknowledgmentData:   rec.AcknowledgmentData,
		History:              history,
		AmendmentOf:          idString(rec.AmendmentOf),
		ResubmissionOf:       idString(rec.ResubmissionOf),
		CreatedAt:            rec.CreatedAt.UTC(),
		UpdatedAt:            rec.UpdatedAt.UTC(),
	}
	if rec.ErrorDetails != nil {
		if row.ErrorDetails, err = json.Marshal(rec.ErrorDetails); err != nil {
			return nil, fmt.Errorf("marshal error details: %w", err)
		}
	}
	if rec.NextAttemptAt != nil {
		t := rec.NextAttemptAt.UTC()
		row.NextAttemptAt = &t
	}
	return row, nil
}

func fromRow(row *submissionRow) (*models.Submission, error) {
	subID, err := id.ParseSubmissionID(row.ID)
	if err != nil {
		return nil, fmt.Errorf("stored submission id %q: %w", row.ID, err)
	}
	rec := &models.Submission{
		ID:                   subID,
		FormType:             forms.FormType(row.FormType),
		TaxYear:              row.TaxYear,
		Status:               models.Status(row.Status),
		TransmissionAttempts: row.TransmissionAttempts,
		RetryCount:           row.RetryCount,
		XMLContent:           row.XMLContent,
		Envelope: signer.Envelope{
			Document:    row.EnvelopeDocument,
			Signature:   row.EnvelopeSignature,
			Certificate: row.EnvelopeCertificate,
		},
		AcknowledgmentData: row.AcknowledgmentData,
		NextAttemptAt:      row.NextAttemptAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if err := json.Unmarshal(row.History, &rec.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if len(row.ErrorDetails) > 0 {
		rec.ErrorDetails = &models.ErrorDetails{}
		if err := json.Unmarshal(row.ErrorDetails, rec.ErrorDetails); err != nil {
			return nil, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	if rec.AmendmentOf, err = parseOptional(row.AmendmentOf); err != nil {
		return nil, err
	}
	if rec.ResubmissionOf, err = parseOptional(row.ResubmissionOf); err != nil {
		return nil, err
	}
	return rec, nil
}

func idString(subID *id.SubmissionID) *string {
	if subID == nil {
		return nil
	}
	s := subID.String()
	return &s
}

func parseOptional(s *string) (*id.SubmissionID, error) {
	if s == nil {
		return nil, nil
	}
	v, err := id.ParseSubmissionID(*s)
	if err != nil {
		return nil, fmt.Errorf("stored submission link %q: %w", *s, err)
	}
	return &v, nil
}
