package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/formq/internal/forms"
	"github.com/osvaldoandrade/formq/internal/metrics"
	"github.com/osvaldoandrade/formq/internal/resolver"
	"github.com/osvaldoandrade/formq/internal/solver"
	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunRequest describes one run of a batch. Directives are shared read-only
// between all runs of the batch.
type RunRequest struct {
	TestID     int64
	JobID      string
	UserID     string
	Directives []domain.AnswerDirective
}

// RunExecutorService answers, submits and records a single run.
type RunExecutorService interface {
	Execute(ctx context.Context, req RunRequest) domain.RunOutcome
}

type runExecutorService struct {
	tests    persistence.TestStorage
	runs     persistence.RunStorage
	resolver resolver.Resolver
	solver   solver.Solver
	sink     forms.Sink
	logger   *slog.Logger
	now      func() time.Time
}

func NewRunExecutorService(
	tests persistence.TestStorage,
	runs persistence.RunStorage,
	res resolver.Resolver,
	slv solver.Solver,
	sink forms.Sink,
	logger *slog.Logger,
	now func() time.Time,
) RunExecutorService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &runExecutorService{
		tests:    tests,
		runs:     runs,
		resolver: res,
		solver:   slv,
		sink:     sink,
		logger:   logger,
		now:      now,
	}
}

func (s *runExecutorService) Execute(ctx context.Context, req RunRequest) domain.RunOutcome {
	start := s.now()
	ctx, span := otel.Tracer("formq/run").Start(ctx, "formq.run.execute",
		trace.WithAttributes(
			attribute.String("formq.job_id", req.JobID),
			attribute.Int64("formq.test_id", req.TestID),
		),
	)
	defer span.End()

	runID, err := s.execute(ctx, req, span)
	var outcome domain.RunOutcome
	if err != nil {
		outcome = domain.FailedRun(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("run failed",
			"job_id", req.JobID,
			"test_id", req.TestID,
			"kind", outcome.Kind,
			"err", err,
		)
	} else {
		outcome = domain.CompletedRun(runID)
		span.SetAttributes(attribute.Int64("formq.run_id", runID))
	}

	metrics.RunsCompletedTotal.WithLabelValues(string(outcome.Status), string(outcome.Kind)).Inc()
	metrics.RunDurationSeconds.WithLabelValues(string(outcome.Status)).Observe(s.now().Sub(start).Seconds())
	return outcome
}

func (s *runExecutorService) execute(ctx context.Context, req RunRequest, span trace.Span) (int64, error) {
	test, err := s.tests.Get(ctx, req.UserID, req.TestID)
	if err != nil {
		return 0, fmt.Errorf("load test %d: %w", req.TestID, err)
	}

	answers, err := resolver.ResolveAll(s.resolver, test.Questions, req.Directives)
	if err != nil {
		return 0, err
	}

	run := &domain.TestRun{
		TestID: test.ID,
		UserID: req.UserID,
		JobID:  req.JobID,
	}

	if deferred := llmQuestions(test.Questions, answers); len(deferred) > 0 {
		if s.solver == nil {
			return 0, fmt.Errorf("%w: llm answers requested but no solver configured", domain.ErrInternal)
		}
		res, err := s.solver.Solve(ctx, deferred, solver.ForTest(req.UserID, test.ID))
		if err != nil {
			return 0, fmt.Errorf("llm answers: %w", err)
		}
		mergeLLMAnswers(answers, res.Answers)
		run.LLMModel = res.Model
		run.LLMAttempts = res.Attempts
		run.LLMTokens = res.Tokens
		run.LLMAnsweringSeconds = res.Elapsed.Seconds()
		span.SetAttributes(
			attribute.Int("formq.llm.questions", len(deferred)),
			attribute.Int("formq.llm.context_chunks", res.ContextChunks),
		)
	}

	if test.URL != "" && s.sink != nil {
		payload := forms.BuildPayload(test.Questions, answers)
		if err := s.sink.Submit(ctx, test.URL, payload); err != nil {
			metrics.FormSubmissionsTotal.WithLabelValues("failure").Inc()
			return 0, err
		}
		metrics.FormSubmissionsTotal.WithLabelValues("success").Inc()
	}

	run.Answers = answers
	run.SubmittedAt = s.now().UTC()
	if err := s.runs.Save(ctx, run); err != nil {
		return 0, fmt.Errorf("%w: save run: %v", domain.ErrInternal, err)
	}
	// The run is already recorded; a stale submitted flag must not turn it into a failure.
	if err := s.tests.MarkSubmitted(ctx, req.UserID, test.ID); err != nil {
		s.logger.Warn("mark test submitted failed",
			"job_id", req.JobID,
			"test_id", test.ID,
			"run_id", run.ID,
			"err", err,
		)
	}
	return run.ID, nil
}

// llmQuestions returns, in question order, the questions resolved in llm mode.
func llmQuestions(questions []domain.QuestionDef, answers []domain.ResolvedAnswer) []domain.QuestionDef {
	var out []domain.QuestionDef
	for i, a := range answers {
		if a.Mode == domain.ModeLLM {
			out = append(out, questions[i])
		}
	}
	return out
}

// mergeLLMAnswers fills llm placeholders in place. Ids missing from the
// solver output stay unresolved.
func mergeLLMAnswers(answers []domain.ResolvedAnswer, llmAnswers map[domain.QuestionID]domain.AnswerValue) {
	for i := range answers {
		if answers[i].Mode != domain.ModeLLM {
			continue
		}
		if v, ok := llmAnswers[answers[i].QuestionID]; ok {
			v := v
			answers[i].LLMAnswer = &v
		}
	}
}
