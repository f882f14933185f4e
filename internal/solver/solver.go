package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/internal/backoff"
	"github.com/osvaldoandrade/formq/internal/llm"
	"github.com/osvaldoandrade/formq/internal/metrics"
	"github.com/osvaldoandrade/formq/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Phase string

const (
	PhaseRetrieve Phase = "RETRIEVE"
	PhaseGenerate Phase = "GENERATE"
	PhaseValidate Phase = "VALIDATE"
	PhaseSuccess  Phase = "SUCCESS"
	PhaseFailed   Phase = "FAILED"
)

type Config struct {
	MaxRetries  int
	Temperature float64
	MaxTokens   int
	// Timeout bounds a single inference call.
	Timeout time.Duration
	Backoff backoff.Policy
	// Context, when set, supplies document chunks for tests that have them.
	Context ContextSource
}

// ContextSource returns reference text relevant to query for one test.
type ContextSource interface {
	Retrieve(ctx context.Context, userID string, testID int64, query string) ([]string, error)
}

type solveOptions struct {
	userID string
	testID int64
}

type SolveOption func(*solveOptions)

// ForTest names the test being answered so its documents can be used as context.
func ForTest(userID string, testID int64) SolveOption {
	return func(o *solveOptions) {
		o.userID = userID
		o.testID = testID
	}
}

// State belongs to one Solve call and is never shared.
type State struct {
	Questions []domain.QuestionDef
	Requested map[domain.QuestionID]bool
	Context   []string
	Phase     Phase
	RawOutput string
	Answers   map[domain.QuestionID]domain.AnswerValue
	// Attempts counts rejected outputs.
	Attempts  int
	Calls     int
	LastError string
	Err       error
	Tokens    int
}

type Result struct {
	Answers  map[domain.QuestionID]domain.AnswerValue
	Attempts int
	Calls    int
	Model    string
	Tokens   int
	Elapsed  time.Duration
	// ContextChunks counts the document chunks placed in the prompt.
	ContextChunks int
}

// Solver answers a batch of questions with an LLM, retrying on invalid output.
type Solver interface {
	Solve(ctx context.Context, questions []domain.QuestionDef, opts ...SolveOption) (*Result, error)
	Model() string
}

type solver struct {
	client    llm.Client
	validator *AnswerValidator
	cfg       Config
	logger    *slog.Logger
}

func New(client llm.Client, validator *AnswerValidator, cfg Config, logger *slog.Logger) Solver {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &solver{client: client, validator: validator, cfg: cfg, logger: logger}
}

func (s *solver) Model() string { return s.client.Model() }

func (s *solver) Solve(ctx context.Context, questions []domain.QuestionDef, opts ...SolveOption) (*Result, error) {
	start := time.Now()
	var o solveOptions
	for _, opt := range opts {
		opt(&o)
	}
	res := &Result{Model: s.client.Model(), Answers: map[domain.QuestionID]domain.AnswerValue{}}
	if len(questions) == 0 {
		return res, nil
	}

	ctx, span := otel.Tracer("formq/solver").Start(ctx, "formq.llm.solve",
		trace.WithAttributes(
			attribute.Int("formq.llm.questions", len(questions)),
			attribute.String("formq.llm.model", s.client.Model()),
		),
	)
	defer span.End()

	st := &State{
		Questions: questions,
		Requested: make(map[domain.QuestionID]bool, len(questions)),
		Phase:     PhaseGenerate,
	}
	if s.cfg.Context != nil && o.testID != 0 {
		st.Phase = PhaseRetrieve
	}
	for _, q := range questions {
		st.Requested[q.ID] = true
	}
	rng := rand.New(rand.NewSource(start.UnixNano()))

	for st.Phase != PhaseSuccess && st.Phase != PhaseFailed {
		switch st.Phase {
		case PhaseRetrieve:
			s.retrieve(ctx, st, o)
		case PhaseGenerate:
			s.generate(ctx, st, rng)
		case PhaseValidate:
			s.validate(st)
		default:
			st.Err = fmt.Errorf("%w: solver in unknown phase %q", domain.ErrInternal, st.Phase)
			st.Phase = PhaseFailed
		}
	}

	res.Attempts = st.Attempts
	res.Calls = st.Calls
	res.Tokens = st.Tokens
	res.ContextChunks = len(st.Context)
	res.Elapsed = time.Since(start)
	span.SetAttributes(
		attribute.Int("formq.llm.calls", st.Calls),
		attribute.Int("formq.llm.attempts", st.Attempts),
		attribute.Int("formq.llm.context_chunks", len(st.Context)),
	)

	if st.Phase == PhaseFailed {
		span.RecordError(st.Err)
		span.SetStatus(codes.Error, st.Err.Error())
		s.logger.Warn("llm solve failed", "calls", st.Calls, "attempts", st.Attempts, "err", st.Err)
		return res, st.Err
	}
	res.Answers = st.Answers
	return res, nil
}

// retrieve loads document context for the test. Failures are logged and the
// solver carries on without context.
func (s *solver) retrieve(ctx context.Context, st *State, o solveOptions) {
	st.Phase = PhaseGenerate
	prompts := make([]string, 0, len(st.Questions))
	for _, q := range st.Questions {
		prompts = append(prompts, q.Prompt)
	}
	chunks, err := s.cfg.Context.Retrieve(ctx, o.userID, o.testID, strings.Join(prompts, " "))
	if err != nil {
		s.logger.Warn("document context unavailable", "test_id", o.testID, "err", err)
		return
	}
	st.Context = chunks
	s.logger.Debug("retrieved context", "test_id", o.testID, "chunks", len(chunks))
}

func (s *solver) generate(ctx context.Context, st *State, rng *rand.Rand) {
	if st.Attempts > 0 {
		if err := sleepOrDone(ctx, s.cfg.Backoff.Delay(st.Attempts-1, rng)); err != nil {
			st.Err = fmt.Errorf("%w: llm retry interrupted: %v", domain.ErrUpstream, err)
			st.Phase = PhaseFailed
			return
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	st.Calls++
	resp, err := s.client.Complete(callCtx, llm.Request{
		Messages:    buildMessages(st.Questions, st.Context, st.LastError),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	metrics.LLMInferenceSeconds.WithLabelValues(s.client.Model()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMAttemptsTotal.WithLabelValues("error").Inc()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", s.cfg.Timeout, err)
		}
		st.Err = fmt.Errorf("%w: llm inference: %v", domain.ErrUpstream, err)
		st.Phase = PhaseFailed
		return
	}
	st.RawOutput = resp.Content
	st.Tokens += resp.TotalTokens
	st.Phase = PhaseValidate
}

func (s *solver) validate(st *State) {
	answers, err := s.validator.Validate(st.RawOutput, st.Requested)
	if err == nil {
		metrics.LLMAttemptsTotal.WithLabelValues("valid").Inc()
		st.Answers = answers
		st.LastError = ""
		st.Phase = PhaseSuccess
		return
	}

	metrics.LLMAttemptsTotal.WithLabelValues("invalid").Inc()
	st.Attempts++
	st.LastError = err.Error()
	s.logger.Debug("llm output rejected", "attempt", st.Attempts, "err", err)
	if st.Attempts >= s.cfg.MaxRetries {
		st.Err = fmt.Errorf("%w: %s", domain.ErrRetryExhausted, st.LastError)
		st.Phase = PhaseFailed
		return
	}
	st.Phase = PhaseGenerate
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
