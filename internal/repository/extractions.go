package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
)

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	Status   constants.ExtractionStatus
	Category constants.Category
	Limit    int
}

type ExtractionRepository interface {
	Create(ctx context.Context, e *entity.Extraction) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Extraction, error)
	// FindByHash returns the oldest extraction of the document with the given
	// content hash.
	FindByHash(ctx context.Context, hash string) (*entity.Extraction, error)
	List(ctx context.Context, f ListFilter) ([]*entity.Extraction, error)
	UpdateCategory(ctx context.Context, id uuid.UUID, category constants.Category) error
	UpdateJSON(ctx context.Context, id uuid.UUID, doc json.RawMessage, model string) error
	// UpdateStatus moves id from one status to the next; it fails with a
	// conflict when the stored status is not from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to constants.ExtractionStatus) error
	// AdvanceWithJSON stores doc and moves id from one status to the next in a
	// single statement. When the stored status is not from, nothing is written.
	AdvanceWithJSON(ctx context.Context, id uuid.UUID, from, to constants.ExtractionStatus, doc json.RawMessage, model string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type extractionRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewExtractionRepository(db *DB, logger *slog.Logger) ExtractionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &extractionRepository{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

const extractionColumns = "id, filename, text, category, status, json, model, content_hash, created_at, updated_at"

func (r *extractionRepository) Create(ctx context.Context, e *entity.Extraction) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = constants.StatusToRecognize
	}
	if !e.Status.Valid() {
		return common.NewAppError("INVALID_STATUS", fmt.Sprintf("unknown status %q", e.Status), common.ErrInvalidInput)
	}
	now := r.now()
	e.CreatedAt, e.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, r.db.rebind(
		"INSERT INTO extractions ("+extractionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		e.ID.String(), e.Filename, e.Text, nullString(string(e.Category)), string(e.Status),
		nullString(string(e.JSON)), nullString(e.Model), nullString(e.ContentHash), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("extraction.create_error", "id", e.ID, "error", err)
		return common.NewAppError("DB_ERROR", "create extraction", errors.Join(common.ErrDatabase, err))
	}
	return nil
}

func (r *extractionRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Extraction, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(
		"SELECT "+extractionColumns+" FROM extractions WHERE id = ?"), id.String())
	e, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "get extraction", errors.Join(common.ErrDatabase, err))
	}
	return e, nil
}

func (r *extractionRepository) FindByHash(ctx context.Context, hash string) (*entity.Extraction, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(
		"SELECT "+extractionColumns+" FROM extractions WHERE content_hash = ? ORDER BY created_at LIMIT 1"), hash)
	e, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("no extraction for content %s", hash), common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "find extraction by hash", errors.Join(common.ErrDatabase, err))
	}
	return e, nil
}

func (r *extractionRepository) List(ctx context.Context, f ListFilter) ([]*entity.Extraction, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	q := "SELECT " + extractionColumns + " FROM extractions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(q), args...)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "list extractions", errors.Join(common.ErrDatabase, err))
	}
	defer rows.Close()

	var out []*entity.Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, common.NewAppError("DB_ERROR", "scan extraction", errors.Join(common.ErrDatabase, err))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError("DB_ERROR", "list extractions", errors.Join(common.ErrDatabase, err))
	}
	return out, nil
}

func (r *extractionRepository) UpdateCategory(ctx context.Context, id uuid.UUID, category constants.Category) error {
	return r.update(ctx, id, "category = ?", nullString(string(category)))
}

func (r *extractionRepository) UpdateJSON(ctx context.Context, id uuid.UUID, doc json.RawMessage, model string) error {
	if len(doc) > 0 && !json.Valid(doc) {
		return common.NewAppError("INVALID_JSON", "extraction json is not valid JSON", common.ErrInvalidInput)
	}
	return r.update(ctx, id, "json = ?, model = ?", nullString(string(doc)), nullString(model))
}

func (r *extractionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to constants.ExtractionStatus) error {
	return r.transition(ctx, id, from, to, "")
}

func (r *extractionRepository) AdvanceWithJSON(ctx context.Context, id uuid.UUID, from, to constants.ExtractionStatus, doc json.RawMessage, model string) error {
	if len(doc) > 0 && !json.Valid(doc) {
		return common.NewAppError("INVALID_JSON", "extraction json is not valid JSON", common.ErrInvalidInput)
	}
	return r.transition(ctx, id, from, to, "json = ?, model = ?, ", nullString(string(doc)), nullString(model))
}

// transition is a compare-and-set on status; set carries extra assignments
// written in the same statement.
func (r *extractionRepository) transition(ctx context.Context, id uuid.UUID, from, to constants.ExtractionStatus, set string, setArgs ...any) error {
	if !from.CanTransition(to) {
		return common.NewAppError("INVALID_TRANSITION", fmt.Sprintf("cannot move from %s to %s", from, to), common.ErrConflict)
	}
	args := append(setArgs, string(to), r.now(), id.String(), string(from))
	res, err := r.db.ExecContext(ctx, r.db.rebind(
		"UPDATE extractions SET "+set+"status = ?, updated_at = ? WHERE id = ? AND status = ?"), args...)
	if err != nil {
		return common.NewAppError("DB_ERROR", "update extraction status", errors.Join(common.ErrDatabase, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.NewAppError("DB_ERROR", "update extraction status", errors.Join(common.ErrDatabase, err))
	}
	if n == 0 {
		current, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return common.NewAppError("STATUS_CONFLICT",
			fmt.Sprintf("extraction %s is %s, expected %s", id, current.Status, from), common.ErrConflict)
	}
	r.logger.Info("extraction.status", "id", id, "from", from, "to", to)
	return nil
}

func (r *extractionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.rebind("DELETE FROM extractions WHERE id = ?"), id.String())
	if err != nil {
		return common.NewAppError("DB_ERROR", "delete extraction", errors.Join(common.ErrDatabase, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

func (r *extractionRepository) update(ctx context.Context, id uuid.UUID, set string, args ...any) error {
	args = append(args, r.now(), id.String())
	res, err := r.db.ExecContext(ctx, r.db.rebind("UPDATE extractions SET "+set+", updated_at = ? WHERE id = ?"), args...)
	if err != nil {
		return common.NewAppError("DB_ERROR", "update extraction", errors.Join(common.ErrDatabase, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExtraction(s scanner) (*entity.Extraction, error) {
	var (
		e                          entity.Extraction
		id, status                 string
		category, doc, model, hash sql.NullString
	)
	if err := s.Scan(&id, &e.Filename, &e.Text, &category, &status, &doc, &model, &hash, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad extraction id %q: %w", id, err)
	}
	e.ID = parsed
	e.Status = constants.ExtractionStatus(status)
	e.Category = constants.Category(category.String)
	e.Model = model.String
	e.ContentHash = hash.String
	if doc.Valid && doc.String != "" {
		e.JSON = json.RawMessage(doc.String)
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func notFound(id uuid.UUID) error {
	return common.NewAppError("NOT_FOUND", fmt.Sprintf("extraction %s not found", id), common.ErrNotFound)
}
