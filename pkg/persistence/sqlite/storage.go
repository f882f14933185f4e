package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"
)

type scanner interface {
	Scan(dest ...any) error
}

type testStorage struct {
	db *sql.DB
	tz *time.Location
}

const testColumns = `id, user_id, type, url, title, questions, is_submitted, created_at, updated_at`

func (s *testStorage) Create(ctx context.Context, t *domain.Test) error {
	now := time.Now().In(s.tz)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tests (user_id, type, url, title, questions, is_submitted, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Type, t.URL, t.Title, string(questions), t.IsSubmitted, t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	t.ID = id
	return nil
}

func (s *testStorage) Get(ctx context.Context, userID string, id int64) (*domain.Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test %d: %w", id, persistence.ErrNotFound)
	}
	return t, err
}

func (s *testStorage) List(ctx context.Context, userID string) ([]*domain.Test, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+testColumns+` FROM tests WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Test, 0)
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *testStorage) Update(ctx context.Context, t *domain.Test) error {
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	t.UpdatedAt = time.Now().In(s.tz)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tests SET title = ?, url = ?, questions = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		t.Title, t.URL, string(questions), t.UpdatedAt.Format(time.RFC3339Nano), t.ID, t.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("test %d: %w", t.ID, persistence.ErrNotFound)
	}
	return nil
}

func (s *testStorage) MarkSubmitted(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tests SET is_submitted = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	// RowsAffected counts matched rows for sqlite, so repeated marks still report 1.
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("test %d: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func scanTest(row scanner) (*domain.Test, error) {
	var t domain.Test
	var url sql.NullString
	var questions, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.UserID, &t.Type, &url, &t.Title, &questions, &t.IsSubmitted, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.URL = url.String
	if err := json.Unmarshal([]byte(questions), &t.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of test %d: %w", t.ID, err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}

type runStorage struct {
	db *sql.DB
	tz *time.Location
}

const runColumns = `id, test_id, user_id, job_id, run_content, llm_model, llm_attempts, tokens, llm_answering_time, submitted_date`

func (s *runStorage) Save(ctx context.Context, run *domain.TestRun) error {
	if run.SubmittedAt.IsZero() {
		run.SubmittedAt = time.Now().In(s.tz)
	}
	content, err := json.Marshal(run.Answers)
	if err != nil {
		return fmt.Errorf("marshal run content: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO test_runs (test_id, user_id, job_id, run_content, llm_model, llm_attempts, tokens, llm_answering_time, submitted_date) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TestID, run.UserID, run.JobID, string(content), run.LLMModel, run.LLMAttempts, run.LLMTokens, run.LLMAnsweringSeconds, run.SubmittedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	run.ID = id
	return nil
}

func (s *runStorage) Get(ctx context.Context, userID string, id int64) (*domain.TestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM test_runs WHERE id = ? AND user_id = ?`, id, userID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, persistence.ErrNotFound)
	}
	return run, err
}

func (s *runStorage) ListByJob(ctx context.Context, userID string, jobID string) ([]*domain.TestRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM test_runs WHERE job_id = ? AND user_id = ? ORDER BY id`, jobID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.TestRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row scanner) (*domain.TestRun, error) {
	var run domain.TestRun
	var model sql.NullString
	var content, submitted string
	if err := row.Scan(&run.ID, &run.TestID, &run.UserID, &run.JobID, &content, &model, &run.LLMAttempts, &run.LLMTokens, &run.LLMAnsweringSeconds, &submitted); err != nil {
		return nil, err
	}
	run.LLMModel = model.String
	if err := json.Unmarshal([]byte(content), &run.Answers); err != nil {
		return nil, fmt.Errorf("decode run %d: %w", run.ID, err)
	}
	run.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submitted)
	return &run, nil
}
