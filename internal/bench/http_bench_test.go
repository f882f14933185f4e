package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/formq/internal/forms"
	"github.com/osvaldoandrade/formq/pkg/app"
	"github.com/osvaldoandrade/formq/pkg/config"
	"github.com/osvaldoandrade/formq/pkg/domain"
)

const (
	benchToken   = "bench-token"
	benchSubject = "bench-user"
	benchFormURL = "https://docs.google.com/forms/d/e/bench/viewform"
)

type benchParser struct{}

func (benchParser) Parse(ctx context.Context, formURL string) (*forms.ParsedForm, error) {
	return &forms.ParsedForm{
		Title: "Bench form",
		Questions: []domain.QuestionDef{
			{ID: "1001", Prompt: "Capital of France?", Type: domain.TypeShortText, Required: true},
			{ID: "1002", Prompt: "Colour", Type: domain.TypeSingleChoice, Options: []string{"red", "green", "blue"}},
			{ID: "1003", Prompt: "Toppings", Type: domain.TypeMultiChoice, Options: []string{"ham", "olives", "basil"}},
		},
	}, nil
}

// countingSink accepts every submission without leaving the process.
type countingSink struct{ n atomic.Int64 }

func (s *countingSink) Submit(ctx context.Context, formURL string, values url.Values) error {
	s.n.Add(1)
	return nil
}

func newBenchApp(b *testing.B) (*app.Application, *countingSink) {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		b.Fatalf("config: %v", err)
	}
	cfg.Env = "dev"
	cfg.LogLevel = "error"
	cfg.RedisAddr = mr.Addr()
	cfg.PersistenceProvider = "memory"
	cfg.AuthProvider = "static"
	cfg.AuthConfig = map[string]any{"token": benchToken, "subject": benchSubject}
	// Benchmarks keep rate limiting disabled.
	cfg.RateLimit = config.RateLimitConfig{}

	sink := &countingSink{}
	a, err := app.NewApplication(cfg, app.WithFormParser(benchParser{}), app.WithFormSink(sink))
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a, sink
}

func doJSONRequest(b *testing.B, h http.Handler, method, path string, body []byte) (int, []byte) {
	b.Helper()

	var rbody *bytes.Reader
	if body == nil {
		rbody = bytes.NewReader([]byte{})
	} else {
		rbody = bytes.NewReader(body)
	}

	req := httptest.NewRequest(method, path, rbody)
	req.Header.Set("Authorization", "Bearer "+benchToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func importBenchTest(b *testing.B, a *app.Application) int64 {
	b.Helper()
	status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/v1/formq/tests/google-form",
		[]byte(fmt.Sprintf(`{"url":%q}`, benchFormURL)))
	if status != http.StatusCreated {
		b.Fatalf("import status %d body=%s", status, string(resp))
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		b.Fatalf("decode import: %v", err)
	}
	return out.ID
}

func BenchmarkHTTP_ImportAndGet(b *testing.B) {
	a, _ := newBenchApp(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := importBenchTest(b, a)
		status, resp := doJSONRequest(b, a.Engine, http.MethodGet, fmt.Sprintf("/v1/formq/tests/%d", id), nil)
		if status != http.StatusOK {
			b.Fatalf("get status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkHTTP_SubmitBatch(b *testing.B) {
	a, sink := newBenchApp(b)
	id := importBenchTest(b, a)

	const runsPerBatch = 10
	submitBody := []byte(fmt.Sprintf(`{"quantity":%d,"answers":[
		{"question_id":"1001","answer_mode":"user","answer":"Paris"},
		{"question_id":"1002","answer_mode":"random"},
		{"question_id":"1003","answer_mode":"random"}]}`, runsPerBatch))
	path := fmt.Sprintf("/v1/formq/tests/%d/submit", id)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, path, submitBody)
		if status != http.StatusAccepted {
			b.Fatalf("submit status %d body=%s", status, string(resp))
		}
		a.Batch.Wait()
	}
	b.StopTimer()

	if got, want := sink.n.Load(), int64(b.N*runsPerBatch); got != want {
		b.Fatalf("sink received %d submissions, want %d", got, want)
	}
}

func BenchmarkHTTP_JobStatus(b *testing.B) {
	a, _ := newBenchApp(b)
	id := importBenchTest(b, a)

	status, resp := doJSONRequest(b, a.Engine, http.MethodPost, fmt.Sprintf("/v1/formq/tests/%d/submit", id),
		[]byte(`{"quantity":1,"answers":[{"question_id":"1001","answer_mode":"user","answer":"Paris"}]}`))
	if status != http.StatusAccepted {
		b.Fatalf("submit status %d body=%s", status, string(resp))
	}
	var submitted struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(resp, &submitted); err != nil {
		b.Fatalf("decode submit: %v", err)
	}
	a.Batch.Wait()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodGet, "/v1/formq/jobs/"+submitted.JobID, nil)
		if status != http.StatusOK {
			b.Fatalf("status %d body=%s", status, string(resp))
		}
	}
}
