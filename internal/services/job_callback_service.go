package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/internal/backoff"
	"github.com/osvaldoandrade/formq/internal/metrics"
	"github.com/osvaldoandrade/formq/internal/ratelimit"
	"github.com/osvaldoandrade/formq/internal/tracing"
	"github.com/osvaldoandrade/formq/pkg/domain"
)

const (
	HeaderTimestamp = "X-Formq-Timestamp"
	HeaderSignature = "X-Formq-Signature"
)

// JobCompletedEvent is the body POSTed to a batch webhook.
type JobCompletedEvent struct {
	JobID         string              `json:"job_id"`
	TestID        int64               `json:"test_id"`
	Status        domain.JobStatus    `json:"status"`
	TotalRuns     int                 `json:"total_runs"`
	ProcessedRuns int                 `json:"processed_runs"`
	Succeeded     int                 `json:"succeeded"`
	Failed        int                 `json:"failed"`
	Results       []domain.RunOutcome `json:"results"`
	CompletedAt   time.Time           `json:"completed_at"`
}

func NewJobCompletedEvent(job domain.Job) JobCompletedEvent {
	ok := job.Succeeded()
	return JobCompletedEvent{
		JobID:         job.ID,
		TestID:        job.TestID,
		Status:        job.Status,
		TotalRuns:     job.TotalRuns,
		ProcessedRuns: job.ProcessedRuns,
		Succeeded:     ok,
		Failed:        job.ProcessedRuns - ok,
		Results:       job.Results,
		CompletedAt:   job.UpdatedAt,
	}
}

// JobCallbackService notifies a caller-supplied URL when a batch finishes.
// Delivery is best effort and never changes job state.
type JobCallbackService interface {
	Deliver(ctx context.Context, webhookURL string, job domain.Job) error
}

type jobCallbackService struct {
	logger      *slog.Logger
	secret      string
	maxAttempts int
	backoff     backoff.Policy
	client      *http.Client
	now         func() time.Time

	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket
}

func NewJobCallbackService(logger *slog.Logger, secret string, maxAttempts int, baseDelay, maxDelay time.Duration, limiter ratelimit.Limiter, bucket ratelimit.Bucket) JobCallbackService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	return &jobCallbackService{
		logger:      logger,
		secret:      secret,
		maxAttempts: maxAttempts,
		backoff:     backoff.Policy{Name: backoff.PolicyExponential, Base: baseDelay, Max: maxDelay},
		client:      &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
		limiter:     limiter,
		bucket:      bucket,
	}
}

func (s *jobCallbackService) Deliver(ctx context.Context, webhookURL string, job domain.Job) error {
	if strings.TrimSpace(webhookURL) == "" {
		return nil
	}
	body, err := json.Marshal(NewJobCompletedEvent(job))
	if err != nil {
		return fmt.Errorf("%w: encode webhook: %v", domain.ErrInternal, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.waitForToken(ctx, webhookURL); err != nil {
			return err
		}
		lastErr = s.post(ctx, webhookURL, body)
		if lastErr == nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("job_completed", "success").Inc()
			return nil
		}
		s.logger.Debug("job webhook attempt failed", "job_id", job.ID, "attempt", attempt, "err", lastErr)
		if attempt == s.maxAttempts {
			break
		}
		if err := sleepOrDone(ctx, s.backoffDelay(attempt)); err != nil {
			lastErr = err
			break
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("job_completed", "failure").Inc()
	s.logger.Warn("job webhook failed", "job_id", job.ID, "url", webhookURL, "err", lastErr)
	return fmt.Errorf("%w: job webhook: %v", domain.ErrUpstream, lastErr)
}

func (s *jobCallbackService) waitForToken(ctx context.Context, webhookURL string) error {
	if s.limiter == nil || !s.bucket.Enabled() {
		return nil
	}
	for {
		dec, err := s.limiter.Allow(ctx, ratelimit.ScopeWebhook, webhookURL, s.bucket)
		if err != nil || dec.Allowed {
			// Fail open on limiter errors.
			return nil
		}
		metrics.RateLimitHitsTotal.WithLabelValues(ratelimit.ScopeWebhook, "job_completed").Inc()
		if err := sleepOrDone(ctx, dec.RetryAfter); err != nil {
			return err
		}
	}
}

func (s *jobCallbackService) post(ctx context.Context, webhookURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.addSignature(req, body)
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (s *jobCallbackService) backoffDelay(attempt int) time.Duration {
	return s.backoff.Delay(attempt-1, nil)
}

func (s *jobCallbackService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(s.secret) == "" {
		return
	}
	ts := s.now().UTC().Unix()
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(s.secret, ts, body))
}

// Sign returns the hex HMAC-SHA256 of "<ts>.<body>" that receivers
// recompute to authenticate a webhook.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10) + "."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
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
