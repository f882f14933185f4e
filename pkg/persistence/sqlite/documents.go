package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"
)

type documentStorage struct {
	db *sql.DB
	tz *time.Location
}

const documentColumns = `id, test_id, user_id, file_name, original_file_name, file_type, size_bytes, scope, chunks, created_at`

func (s *documentStorage) Save(ctx context.Context, doc *domain.Document, chunks []string) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().In(s.tz)
	}
	doc.Chunks = len(chunks)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (test_id, user_id, file_name, original_file_name, file_type, size_bytes, scope, chunks, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.TestID, doc.UserID, doc.FileName, doc.OriginalName, doc.ContentType, doc.SizeBytes, doc.Scope, doc.Chunks, doc.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO document_chunks (document_id, chunk_index, chunk_text) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunks: %w", err)
	}
	defer stmt.Close()
	for i, text := range chunks {
		if _, err := stmt.ExecContext(ctx, id, i, text); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document: %w", err)
	}
	doc.ID = id
	return nil
}

func (s *documentStorage) ListByTest(ctx context.Context, userID string, testID int64) ([]*domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE test_id = ? AND user_id = ? ORDER BY id`, testID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Document, 0)
	for rows.Next() {
		var d domain.Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.TestID, &d.UserID, &d.FileName, &d.OriginalName, &d.ContentType, &d.SizeBytes, &d.Scope, &d.Chunks, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *documentStorage) Chunks(ctx context.Context, userID string, testID int64) ([]domain.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.document_id, c.chunk_index, c.chunk_text
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.test_id = ? AND d.user_id = ?
		ORDER BY c.document_id, c.chunk_index`, testID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DocumentChunk, 0)
	for rows.Next() {
		var c domain.DocumentChunk
		if err := rows.Scan(&c.DocumentID, &c.Index, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
