package database

import (
	"context"
	"database/sql"
)

// CreateDocument inserts a document record.
func (db *DB) CreateDocument(ctx context.Context, d *Document) error {
	now := db.timestamp()
	id, err := db.insert(ctx,
		`INSERT INTO documents (name, document_type, review_id, policy_id, upload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Name, d.DocumentType, d.ReviewID, d.PolicyID, d.Upload, now,
	)
	if err != nil {
		return err
	}
	d.ID = id
	d.CreatedAt = now
	return nil
}

// ListReviewDocuments returns a review's documents, newest first.
func (db *DB) ListReviewDocuments(ctx context.Context, reviewID int64) ([]Document, error) {
	rows, err := db.query(ctx,
		`SELECT id, name, document_type, review_id, policy_id, upload, created_at
		FROM documents WHERE review_id = ? ORDER BY created_at DESC, id DESC`, reviewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// GetDocument returns a document by ID, or nil.
func (db *DB) GetDocument(ctx context.Context, id int64) (*Document, error) {
	rows, err := db.query(ctx,
		`SELECT id, name, document_type, review_id, policy_id, upload, created_at
		FROM documents WHERE id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

// DeleteDocument removes a document record.
func (db *DB) DeleteDocument(ctx context.Context, id int64) error {
	_, err := db.exec(ctx, "DELETE FROM documents WHERE id = ?", id)
	return err
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		var reviewID, policyID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Name, &d.DocumentType, &reviewID, &policyID,
			&d.Upload, &d.CreatedAt); err != nil {
			return nil, err
		}
		if reviewID.Valid {
			d.ReviewID = &reviewID.Int64
		}
		if policyID.Valid {
			d.PolicyID = &policyID.Int64
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
