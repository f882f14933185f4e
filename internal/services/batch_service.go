package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/formq/internal/jobs"
	"github.com/osvaldoandrade/formq/internal/metrics"
	"github.com/osvaldoandrade/formq/internal/tracing"
	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxParallelRuns  = 9
	DefaultMaxBatchQuantity = 1000
)

type SubmitRequest struct {
	TestID     int64
	Quantity   int
	Directives []domain.AnswerDirective
	UserID     string
	// Webhook, when set, receives the final job state.
	Webhook string
	// RequestID ties the batch's log lines to the HTTP request that created it.
	RequestID string
}

// BatchService schedules batches of runs and reports their progress.
type BatchService interface {
	// Submit registers a pending job and returns its id without waiting for
	// any run to start.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	// Status returns the job as seen by its owner. Results are only
	// included once the job is completed.
	Status(ctx context.Context, userID, jobID string) (domain.Job, error)
	// Watch streams Status snapshots after every change and closes the
	// channel after the completed snapshot or when ctx ends.
	Watch(ctx context.Context, userID, jobID string) (<-chan domain.Job, error)
	// Wait blocks until every background batch has finished.
	Wait()
}

type BatchConfig struct {
	MaxParallelRuns  int
	MaxBatchQuantity int
}

type batchService struct {
	store    *jobs.Store
	tests    persistence.TestStorage
	executor RunExecutorService
	callback JobCallbackService
	cfg      BatchConfig
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

func NewBatchService(
	store *jobs.Store,
	tests persistence.TestStorage,
	executor RunExecutorService,
	callback JobCallbackService,
	cfg BatchConfig,
	logger *slog.Logger,
	now func() time.Time,
) BatchService {
	if cfg.MaxParallelRuns <= 0 {
		cfg.MaxParallelRuns = DefaultMaxParallelRuns
	}
	if cfg.MaxBatchQuantity <= 0 {
		cfg.MaxBatchQuantity = DefaultMaxBatchQuantity
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &batchService{
		store:    store,
		tests:    tests,
		executor: executor,
		callback: callback,
		cfg:      cfg,
		logger:   logger,
		now:      now,
	}
}

func (s *batchService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := s.validate(req); err != nil {
		return "", err
	}
	if _, err := s.tests.Get(ctx, req.UserID, req.TestID); err != nil {
		return "", err
	}

	jobID := uuid.NewString()
	if err := s.store.Create(jobID, req.Quantity, req.TestID, req.UserID); err != nil {
		return "", err
	}
	metrics.BatchesSubmittedTotal.Inc()
	metrics.RunsRequestedTotal.Add(float64(req.Quantity))

	req.Directives = append([]domain.AnswerDirective(nil), req.Directives...)
	bg := tracing.Detach(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(bg, jobID, req)
	}()

	s.batchLogger(jobID, req).Info("batch submitted", "test_id", req.TestID, "quantity", req.Quantity)
	return jobID, nil
}

func (s *batchService) batchLogger(jobID string, req SubmitRequest) *slog.Logger {
	l := s.logger.With("job_id", jobID)
	if req.RequestID != "" {
		l = l.With("request_id", req.RequestID)
	}
	return l
}

func (s *batchService) validate(req SubmitRequest) error {
	if req.Quantity < 1 || req.Quantity > s.cfg.MaxBatchQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", domain.ErrValidation, s.cfg.MaxBatchQuantity)
	}
	seen := make(map[domain.QuestionID]bool, len(req.Directives))
	for _, d := range req.Directives {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.QuestionID] {
			return fmt.Errorf("%w: duplicate directive for question %s", domain.ErrValidation, d.QuestionID)
		}
		seen[d.QuestionID] = true
	}
	if req.Webhook != "" {
		u, err := url.Parse(req.Webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: webhook must be an absolute http(s) URL", domain.ErrValidation)
		}
	}
	return nil
}

// run is the background phase of one batch. Every run is recorded exactly
// once, whatever happens inside it.
func (s *batchService) run(ctx context.Context, jobID string, req SubmitRequest) {
	start := s.now()
	ctx, span := otel.Tracer("formq/batch").Start(ctx, "formq.batch.run",
		trace.WithAttributes(
			attribute.String("formq.job_id", jobID),
			attribute.Int64("formq.test_id", req.TestID),
			attribute.Int("formq.quantity", req.Quantity),
		),
	)
	defer span.End()
	logger := s.batchLogger(jobID, req)

	if err := s.store.SetStatus(jobID, domain.JobProcessing); err != nil {
		logger.Error("job vanished before processing", "err", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallelRuns)
	for i := 0; i < req.Quantity; i++ {
		g.Go(func() error {
			outcome := s.executeSafely(ctx, jobID, req)
			if err := s.store.AppendResult(jobID, outcome); err != nil {
				logger.Error("record run outcome", "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.store.SetStatus(jobID, domain.JobCompleted); err != nil {
		logger.Error("complete job", "err", err)
		return
	}
	metrics.BatchDurationSeconds.Observe(s.now().Sub(start).Seconds())

	job, err := s.store.Get(jobID)
	if err != nil {
		return
	}
	span.SetAttributes(attribute.Int("formq.succeeded", job.Succeeded()))
	logger.Info("batch completed",
		"total", job.TotalRuns,
		"succeeded", job.Succeeded(),
		"elapsed", s.now().Sub(start).String(),
	)

	if req.Webhook != "" && s.callback != nil {
		_ = s.callback.Deliver(ctx, req.Webhook, job)
	}
}

func (s *batchService) executeSafely(ctx context.Context, jobID string, req SubmitRequest) (outcome domain.RunOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run panicked", "job_id", jobID, "panic", r, "stack", string(debug.Stack()))
			outcome = domain.FailedRun(fmt.Errorf("%w: run panicked: %v", domain.ErrInternal, r))
			metrics.RunsCompletedTotal.WithLabelValues(string(domain.RunFailed), string(domain.KindInternal)).Inc()
		}
	}()
	return s.executor.Execute(ctx, RunRequest{
		TestID:     req.TestID,
		JobID:      jobID,
		UserID:     req.UserID,
		Directives: req.Directives,
	})
}

func (s *batchService) Status(ctx context.Context, userID, jobID string) (domain.Job, error) {
	jobID = strings.TrimSpace(jobID)
	job, err := s.store.Get(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.UserID != userID {
		return domain.Job{}, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if !job.Status.Terminal() {
		job.Results = nil
	}
	return job, nil
}

func (s *batchService) Watch(ctx context.Context, userID, jobID string) (<-chan domain.Job, error) {
	jobID = strings.TrimSpace(jobID)
	signal, stop := s.store.Watch(jobID)
	if _, err := s.Status(ctx, userID, jobID); err != nil {
		stop()
		return nil, err
	}

	out := make(chan domain.Job, 1)
	go func() {
		defer stop()
		defer close(out)
		for {
			job, err := s.Status(ctx, userID, jobID)
			if err != nil {
				return
			}
			select {
			case out <- job:
			case <-ctx.Done():
				return
			}
			if job.Status.Terminal() {
				return
			}
			select {
			case <-signal:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *batchService) Wait() {
	s.wg.Wait()
}
