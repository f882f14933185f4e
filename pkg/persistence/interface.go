package persistence

import (
	"context"

	"github.com/osvaldoandrade/formq/pkg/domain"
)

// ErrNotFound is returned when a record does not exist or belongs to another user.
var ErrNotFound = domain.ErrNotFound

// PluginPersistence is implemented by every storage backend.
type PluginPersistence interface {
	// TestStorage returns the imported test storage
	TestStorage() TestStorage

	// RunStorage returns the test run storage
	RunStorage() RunStorage

	// DocumentStorage returns the storage for documents attached to tests
	DocumentStorage() DocumentStorage

	// Health checks if the persistence backend is reachable
	Health(ctx context.Context) error

	// Close releases resources held by the backend
	Close() error
}

// TestStorage stores imported tests. Every read and write is scoped to a user.
type TestStorage interface {
	// Create assigns t.ID and stores the test
	Create(ctx context.Context, t *domain.Test) error

	Get(ctx context.Context, userID string, id int64) (*domain.Test, error)

	// List returns the user's tests, newest first
	List(ctx context.Context, userID string) ([]*domain.Test, error)

	// Update replaces title, url and questions of an existing test
	Update(ctx context.Context, t *domain.Test) error

	// MarkSubmitted flags the test as submitted at least once
	MarkSubmitted(ctx context.Context, userID string, id int64) error
}

// RunStorage stores completed test runs.
type RunStorage interface {
	// Save assigns run.ID and stores the run
	Save(ctx context.Context, run *domain.TestRun) error

	Get(ctx context.Context, userID string, id int64) (*domain.TestRun, error)

	// ListByJob returns the runs of one job in insertion order
	ListByJob(ctx context.Context, userID string, jobID string) ([]*domain.TestRun, error)
}

// DocumentStorage stores uploaded documents and their text chunks.
type DocumentStorage interface {
	// Save assigns doc.ID and stores the document with its chunks in order
	Save(ctx context.Context, doc *domain.Document, chunks []string) error

	// ListByTest returns the user's documents for a test, oldest first
	ListByTest(ctx context.Context, userID string, testID int64) ([]*domain.Document, error)

	// Chunks returns every chunk attached to the test, by document then index
	Chunks(ctx context.Context, userID string, testID int64) ([]domain.DocumentChunk, error)
}
