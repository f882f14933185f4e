package forms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/internal/tracing"
	"github.com/osvaldoandrade/formq/pkg/domain"
)

// Sink delivers one set of answers to a form.
type Sink interface {
	Submit(ctx context.Context, formURL string, values url.Values) error
}

type HTTPSink struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPSink(timeout time.Duration, logger *slog.Logger) *HTTPSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSink{client: &http.Client{Timeout: timeout}, logger: logger}
}

func (s *HTTPSink) Submit(ctx context.Context, formURL string, values url.Values) error {
	target := ResponseURL(formURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("%w: build submission: %v", domain.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: submit form: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("form submission rejected", "url", target, "status", resp.StatusCode)
		return fmt.Errorf("%w: submit form: status %d", domain.ErrUpstream, resp.StatusCode)
	}
	return nil
}

// BuildPayload converts resolved answers into form values. Each answer uses
// the first of user, llm and random answers, then the question default,
// then an empty string. Multi-select answers become repeated keys.
func BuildPayload(questions []domain.QuestionDef, answers []domain.ResolvedAnswer) url.Values {
	defaults := make(map[domain.QuestionID]string, len(questions))
	for _, q := range questions {
		defaults[q.ID] = q.DefaultValue
	}
	values := url.Values{}
	for _, a := range answers {
		key := FieldKey(a.QuestionID)
		if v := a.Answer(); v != nil {
			for _, s := range v.Values() {
				values.Add(key, s)
			}
			if v.IsMulti() && len(v.Values()) == 0 {
				values.Set(key, "")
			}
			continue
		}
		values.Set(key, defaults[a.QuestionID])
	}
	return values
}

// FieldKey is the form field name for a question id.
func FieldKey(id domain.QuestionID) string {
	if id.Synthetic() {
		return string(id)
	}
	return "entry." + string(id)
}
