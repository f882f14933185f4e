package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/internal/documents"
	"github.com/osvaldoandrade/formq/internal/metrics"
	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"

	"github.com/google/uuid"
)

// DocumentUpload is one file received for a test.
type DocumentUpload struct {
	FileName    string
	ContentType string
	Scope       string
	Data        []byte
}

// DocumentsService attaches reference documents to a user's tests.
type DocumentsService interface {
	Upload(ctx context.Context, userID string, testID int64, up DocumentUpload) (*domain.Document, error)
	List(ctx context.Context, userID string, testID int64) ([]*domain.Document, error)
}

type DocumentsConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MaxSize      int64
}

type documentsService struct {
	tests  persistence.TestStorage
	docs   persistence.DocumentStorage
	cfg    DocumentsConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewDocumentsService(tests persistence.TestStorage, docs persistence.DocumentStorage, cfg DocumentsConfig, logger *slog.Logger, now func() time.Time) DocumentsService {
	if cfg.MaxSize <= 0 || cfg.MaxSize > documents.MaxSize {
		cfg.MaxSize = documents.MaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &documentsService{tests: tests, docs: docs, cfg: cfg, logger: logger, now: now}
}

func (s *documentsService) Upload(ctx context.Context, userID string, testID int64, up DocumentUpload) (*domain.Document, error) {
	if _, err := s.tests.Get(ctx, userID, testID); err != nil {
		return nil, err
	}
	scope := strings.TrimSpace(up.Scope)
	if scope == "" {
		scope = domain.DocumentScopeTest
	}
	if scope != domain.DocumentScopeTest {
		return nil, fmt.Errorf("%w: unsupported scope %q", domain.ErrValidation, up.Scope)
	}
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", domain.ErrValidation)
	}
	if int64(len(up.Data)) > s.cfg.MaxSize {
		return nil, fmt.Errorf("%w: file too large, max %d bytes allowed", domain.ErrValidation, s.cfg.MaxSize)
	}

	contentType, err := documents.DetectType(up.ContentType, up.Data)
	if err != nil {
		metrics.DocumentsUploadedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	text, err := documents.ExtractText(contentType, up.Data)
	if err != nil {
		metrics.DocumentsUploadedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	chunks := documents.Split(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		metrics.DocumentsUploadedTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: document contains no text", domain.ErrValidation)
	}

	original := filepath.Base(strings.TrimSpace(up.FileName))
	if original == "." || original == string(filepath.Separator) {
		original = "document"
	}
	doc := &domain.Document{
		TestID:       testID,
		UserID:       userID,
		FileName:     uuid.NewString() + strings.ToLower(filepath.Ext(original)),
		OriginalName: original,
		ContentType:  contentType,
		SizeBytes:    int64(len(up.Data)),
		Scope:        scope,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.docs.Save(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("%w: save document: %v", domain.ErrInternal, err)
	}
	metrics.DocumentsUploadedTotal.WithLabelValues("stored").Inc()
	s.logger.Info("document attached",
		"test_id", testID,
		"document_id", doc.ID,
		"file_type", contentType,
		"chunks", len(chunks),
	)
	return doc, nil
}

func (s *documentsService) List(ctx context.Context, userID string, testID int64) ([]*domain.Document, error) {
	if _, err := s.tests.Get(ctx, userID, testID); err != nil {
		return nil, err
	}
	return s.docs.ListByTest(ctx, userID, testID)
}
