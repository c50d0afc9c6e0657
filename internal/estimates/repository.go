package estimates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-construction/internal/platform/db"
	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

// Repository provides persistence for cost documents. Documents are stored whole as JSONB
// with a few columns lifted out for filtering.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new document.
func (r *Repository) Create(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("estimates: encode document: %w", err)
	}
	const sql = `INSERT INTO estimate_documents (id, kind, title, status, revision, amended_from, grand_total, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`
	_, err = r.pool.Exec(ctx, sql, doc.ID, string(doc.Kind), doc.Title, string(doc.Status), doc.Revision,
		doc.AmendedFrom, doc.Totals.GrandTotal, payload, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("estimates: document %s: %w", doc.ID, shared.ErrConflict)
		}
		return fmt.Errorf("estimates: insert document: %w", err)
	}
	return nil
}

// Get loads a document by ID.
func (r *Repository) Get(ctx context.Context, id string) (Document, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM estimate_documents WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("estimates: document %s: %w", id, shared.ErrNotFound)
		}
		return Document{}, fmt.Errorf("estimates: load document: %w", err)
	}
	return decodeDocument(payload)
}

// Update overwrites a stored document.
func (r *Repository) Update(ctx context.Context, doc Document) error {
	return r.update(ctx, r.pool, doc)
}

func (r *Repository) update(ctx context.Context, q db.Querier, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("estimates: encode document: %w", err)
	}
	const sql = `UPDATE estimate_documents
SET title = $2, status = $3, revision = $4, grand_total = $5, payload = $6, updated_at = $7
WHERE id = $1`
	tag, err := q.Exec(ctx, sql, doc.ID, doc.Title, string(doc.Status), doc.Revision,
		doc.Totals.GrandTotal, payload, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("estimates: update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("estimates: document %s: %w", doc.ID, shared.ErrNotFound)
	}
	return nil
}

// SaveRevision stores the superseded document and its new revision in one transaction.
func (r *Repository) SaveRevision(ctx context.Context, previous, next Document) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("estimates: encode document: %w", err)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.update(ctx, tx, previous); err != nil {
			return err
		}
		const sql = `INSERT INTO estimate_documents (id, kind, title, status, revision, amended_from, grand_total, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`
		_, err := tx.Exec(ctx, sql, next.ID, string(next.Kind), next.Title, string(next.Status), next.Revision,
			next.AmendedFrom, next.Totals.GrandTotal, payload, next.CreatedAt, next.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("estimates: document %s: %w", next.ID, shared.ErrConflict)
			}
			return fmt.Errorf("estimates: insert revision: %w", err)
		}
		return nil
	})
}

// List returns documents ordered by most recent change.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Document, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const sql = `SELECT payload FROM estimate_documents
WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)
ORDER BY updated_at DESC
LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, sql, string(filters.Kind), string(filters.Status), limit, filters.Offset)
	if err != nil {
		return nil, fmt.Errorf("estimates: list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("estimates: scan document: %w", err)
		}
		doc, err := decodeDocument(payload)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// RecordRecalculation appends an entry to the recalculation history.
func (r *Repository) RecordRecalculation(ctx context.Context, doc Document, source string, at time.Time) error {
	const sql = `INSERT INTO estimate_recalculations (document_id, base_total, grand_total, source, recorded_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, sql, doc.ID, doc.Totals.BaseTotal, doc.Totals.GrandTotal, source, at); err != nil {
		return fmt.Errorf("estimates: record recalculation: %w", err)
	}
	return nil
}

func decodeDocument(payload []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, fmt.Errorf("estimates: decode document: %w", err)
	}
	return doc, nil
}
