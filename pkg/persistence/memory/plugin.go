package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"
)

// Plugin implements PluginPersistence in process memory.
// Intended for tests and local runs; data is lost on restart.
type Plugin struct {
	mu       sync.RWMutex
	tests    map[int64]*domain.Test
	runs     map[int64]*domain.TestRun
	jobRuns  map[string][]int64
	docs     map[int64]*domain.Document
	chunks   map[int64][]string
	nextTest int64
	nextRun  int64
	nextDoc  int64
	tz       *time.Location
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	tz := config.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{
		tests:   make(map[int64]*domain.Test),
		runs:    make(map[int64]*domain.TestRun),
		jobRuns: make(map[string][]int64),
		docs:    make(map[int64]*domain.Document),
		chunks:  make(map[int64][]string),
		tz:      tz,
	}, nil
}

func (p *Plugin) TestStorage() persistence.TestStorage { return &testStorage{plugin: p} }
func (p *Plugin) RunStorage() persistence.RunStorage   { return &runStorage{plugin: p} }
func (p *Plugin) DocumentStorage() persistence.DocumentStorage {
	return &documentStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error { return nil }

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error { return nil }

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

type testStorage struct {
	plugin *Plugin
}

func (s *testStorage) Create(ctx context.Context, t *domain.Test) error {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextTest++
	t.ID = p.nextTest
	now := time.Now().In(p.tz)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	p.tests[t.ID] = cloneTest(t)
	return nil
}

func (s *testStorage) Get(ctx context.Context, userID string, id int64) (*domain.Test, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tests[id]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("test %d: %w", id, persistence.ErrNotFound)
	}
	return cloneTest(t), nil
}

func (s *testStorage) List(ctx context.Context, userID string) ([]*domain.Test, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*domain.Test, 0)
	for _, t := range p.tests {
		if t.UserID == userID {
			out = append(out, cloneTest(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *testStorage) Update(ctx context.Context, t *domain.Test) error {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.tests[t.ID]
	if !ok || cur.UserID != t.UserID {
		return fmt.Errorf("test %d: %w", t.ID, persistence.ErrNotFound)
	}
	cur.Title = t.Title
	cur.URL = t.URL
	cur.Questions = append([]domain.QuestionDef(nil), t.Questions...)
	cur.UpdatedAt = time.Now().In(p.tz)
	t.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *testStorage) MarkSubmitted(ctx context.Context, userID string, id int64) error {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tests[id]
	if !ok || t.UserID != userID {
		return fmt.Errorf("test %d: %w", id, persistence.ErrNotFound)
	}
	t.IsSubmitted = true
	return nil
}

type runStorage struct {
	plugin *Plugin
}

func (s *runStorage) Save(ctx context.Context, run *domain.TestRun) error {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextRun++
	run.ID = p.nextRun
	if run.SubmittedAt.IsZero() {
		run.SubmittedAt = time.Now().In(p.tz)
	}
	cp := *run
	cp.Answers = append([]domain.ResolvedAnswer(nil), run.Answers...)
	p.runs[run.ID] = &cp
	p.jobRuns[run.JobID] = append(p.jobRuns[run.JobID], run.ID)
	return nil
}

func (s *runStorage) Get(ctx context.Context, userID string, id int64) (*domain.TestRun, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.runs[id]
	if !ok || r.UserID != userID {
		return nil, fmt.Errorf("run %d: %w", id, persistence.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *runStorage) ListByJob(ctx context.Context, userID string, jobID string) ([]*domain.TestRun, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*domain.TestRun, 0, len(p.jobRuns[jobID]))
	for _, id := range p.jobRuns[jobID] {
		r := p.runs[id]
		if r.UserID != userID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

type documentStorage struct {
	plugin *Plugin
}

func (s *documentStorage) Save(ctx context.Context, doc *domain.Document, chunks []string) error {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextDoc++
	doc.ID = p.nextDoc
	doc.Chunks = len(chunks)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().In(p.tz)
	}
	cp := *doc
	p.docs[doc.ID] = &cp
	p.chunks[doc.ID] = append([]string(nil), chunks...)
	return nil
}

func (s *documentStorage) ListByTest(ctx context.Context, userID string, testID int64) ([]*domain.Document, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*domain.Document, 0)
	for _, d := range p.docs {
		if d.UserID == userID && d.TestID == testID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *documentStorage) Chunks(ctx context.Context, userID string, testID int64) ([]domain.DocumentChunk, error) {
	docs, err := s.ListByTest(ctx, userID, testID)
	if err != nil {
		return nil, err
	}
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.DocumentChunk, 0)
	for _, d := range docs {
		for i, text := range p.chunks[d.ID] {
			out = append(out, domain.DocumentChunk{DocumentID: d.ID, Index: i, Text: text})
		}
	}
	return out, nil
}

func cloneTest(t *domain.Test) *domain.Test {
	cp := *t
	cp.Questions = append([]domain.QuestionDef(nil), t.Questions...)
	return &cp
}
