package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/internal/forms"
	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"
)

// TestsService manages imported tests and their run records for one user at
// a time. Lookups for another user's data report ErrNotFound.
type TestsService interface {
	Import(ctx context.Context, userID, formURL, title string) (*domain.Test, error)
	Get(ctx context.Context, userID string, id int64) (*domain.Test, error)
	List(ctx context.Context, userID string) ([]*domain.Test, error)
	Update(ctx context.Context, userID string, id int64, patch domain.TestPatch) (*domain.Test, error)
	GetRun(ctx context.Context, userID string, runID int64) (*domain.TestRun, error)
	ListRuns(ctx context.Context, userID, jobID string) ([]*domain.TestRun, error)
}

type testsService struct {
	tests  persistence.TestStorage
	runs   persistence.RunStorage
	parser forms.Parser
	logger *slog.Logger
	now    func() time.Time
}

func NewTestsService(tests persistence.TestStorage, runs persistence.RunStorage, parser forms.Parser, logger *slog.Logger, now func() time.Time) TestsService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &testsService{tests: tests, runs: runs, parser: parser, logger: logger, now: now}
}

func (s *testsService) Import(ctx context.Context, userID, formURL, title string) (*domain.Test, error) {
	formURL = strings.TrimSpace(formURL)
	if err := forms.ValidateURL(formURL); err != nil {
		return nil, err
	}
	parsed, err := s.parser.Parse(ctx, formURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = parsed.Title
	}
	now := s.now().UTC()
	t := &domain.Test{
		UserID:    userID,
		Type:      domain.TestTypeGoogleForm,
		URL:       formURL,
		Title:     strings.TrimSpace(title),
		Questions: parsed.Questions,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tests.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: create test: %v", domain.ErrInternal, err)
	}
	s.logger.Info("test imported", "test_id", t.ID, "questions", len(t.Questions))
	return t, nil
}

func (s *testsService) Get(ctx context.Context, userID string, id int64) (*domain.Test, error) {
	return s.tests.Get(ctx, userID, id)
}

func (s *testsService) List(ctx context.Context, userID string) ([]*domain.Test, error) {
	return s.tests.List(ctx, userID)
}

func (s *testsService) Update(ctx context.Context, userID string, id int64, patch domain.TestPatch) (*domain.Test, error) {
	t, err := s.tests.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.URL != nil {
		u := strings.TrimSpace(*patch.URL)
		if u != "" {
			if err := forms.ValidateURL(u); err != nil {
				return nil, err
			}
		}
		t.URL = u
	}
	if patch.Questions != nil {
		if err := validateQuestions(*patch.Questions); err != nil {
			return nil, err
		}
		t.Questions = *patch.Questions
	}
	t.UpdatedAt = s.now().UTC()
	if err := s.tests.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *testsService) GetRun(ctx context.Context, userID string, runID int64) (*domain.TestRun, error) {
	return s.runs.Get(ctx, userID, runID)
}

func (s *testsService) ListRuns(ctx context.Context, userID, jobID string) ([]*domain.TestRun, error) {
	return s.runs.ListByJob(ctx, userID, strings.TrimSpace(jobID))
}

func validateQuestions(questions []domain.QuestionDef) error {
	seen := make(map[domain.QuestionID]bool, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			return fmt.Errorf("%w: question %d has no id", domain.ErrValidation, i)
		}
		if seen[q.ID] {
			return fmt.Errorf("%w: duplicate question id %s", domain.ErrValidation, q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}
