package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/osvaldoandrade/formq/internal/llm"
	"github.com/osvaldoandrade/formq/internal/services"
	"github.com/osvaldoandrade/formq/pkg/config"
	"github.com/osvaldoandrade/formq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const hookSecret = "hook-secret"

const formPage = `<html><script>var FB_PUBLIC_LOAD_DATA_ = [null,["Geography",[
 [111,"What is the capital of France?",null,0,[[1001,null,1]]],
 [222,"Favourite colour",null,2,[[1002,[["red"],["green"],["blue"]],0]]],
 [333,"Largest ocean",null,0,[[1003,null,0]]]
],null,null,null,null,null,null,"Geography quiz"],"/forms","Geography file"];</script></html>`

// fakeForm serves a form page and records every submission.
type fakeForm struct {
	mu          sync.Mutex
	submissions []url.Values
}

func (f *fakeForm) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		_, _ = io.WriteString(w, formPage)
	case http.MethodPost:
		_ = r.ParseForm()
		f.mu.Lock()
		f.submissions = append(f.submissions, r.PostForm)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeForm) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}

type oceanLLM struct{}

func (oceanLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Content:     "```json\n{\"questions\":[{\"question_id\":\"1003\",\"answer\":\"Pacific\"}]}\n```",
		Model:       "ocean",
		TotalTokens: 12,
	}, nil
}
func (oceanLLM) Provider() llm.Provider { return "fake" }
func (oceanLLM) Model() string          { return "ocean" }

func newTestApp(t *testing.T, opts ...ApplicationOption) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Env = "test"
	cfg.LogLevel = "error"
	cfg.RedisAddr = mr.Addr()
	cfg.PersistenceProvider = "memory"
	cfg.AuthProvider = "static"
	cfg.AuthConfig = map[string]any{
		"users": []any{
			map[string]any{"token": "tok-alice", "subject": "alice"},
			map[string]any{"token": "tok-bob", "subject": "bob"},
		},
	}
	cfg.WebhookHmacSecret = hookSecret
	cfg.JobWebhookBaseBackoffSeconds = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	app, err := NewApplication(cfg, opts...)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	})
	return server
}

func TestHTTPIntegrationFlow(t *testing.T) {
	ctx := context.Background()
	form := &fakeForm{}
	formSrv := httptest.NewServer(form)
	t.Cleanup(formSrv.Close)

	hooks := make(chan *http.Request, 1)
	hookBodies := make(chan []byte, 1)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		hooks <- r
		hookBodies <- b
	}))
	t.Cleanup(hookSrv.Close)

	server := newTestApp(t, WithLLMClient(oceanLLM{}))
	base := server.URL + "/v1/formq"

	var created struct {
		ID int64 `json:"id"`
	}
	status, body := doJSON(t, ctx, http.MethodPost, base+"/tests/google-form", "tok-alice",
		map[string]any{"url": formSrv.URL + "/forms/d/e/abc/viewform"}, &created)
	if status != http.StatusCreated || created.ID == 0 {
		t.Fatalf("import status %d body=%s", status, body)
	}

	var test domain.Test
	status, body = doJSON(t, ctx, http.MethodGet, fmt.Sprintf("%s/tests/%d", base, created.ID), "tok-alice", nil, &test)
	if status != http.StatusOK || test.Title != "Geography quiz" || len(test.Questions) != 3 {
		t.Fatalf("get test status %d body=%s", status, body)
	}
	if status, _ := doJSON(t, ctx, http.MethodGet, fmt.Sprintf("%s/tests/%d", base, created.ID), "tok-bob", nil, nil); status != http.StatusNotFound {
		t.Fatalf("another user must not see the test, got %d", status)
	}

	var accepted struct {
		JobID   string `json:"job_id"`
		Message string `json:"message"`
	}
	status, body = doJSON(t, ctx, http.MethodPost, fmt.Sprintf("%s/tests/%d/submit", base, created.ID), "tok-alice", map[string]any{
		"quantity": 1,
		"answers": []map[string]any{
			{"question_id": 1001, "answer_mode": "user", "answer": "Paris"},
			{"question_id": 1002, "answer_mode": "random"},
			{"question_id": 1003, "answer_mode": "llm"},
		},
		"webhook": hookSrv.URL,
	}, &accepted)
	if status != http.StatusAccepted || accepted.JobID == "" {
		t.Fatalf("submit status %d body=%s", status, body)
	}

	job := waitForJob(t, ctx, base, "tok-alice", accepted.JobID)
	if len(job.Results) != 1 || job.Results[0].Status != domain.RunCompleted || job.Results[0].RunID == 0 {
		t.Fatalf("unexpected results %+v", job.Results)
	}
	if job.ProcessedRuns != job.TotalRuns {
		t.Fatalf("counts differ: %+v", job)
	}

	var run domain.TestRun
	status, body = doJSON(t, ctx, http.MethodGet, fmt.Sprintf("%s/test-runs/%d", base, job.Results[0].RunID), "tok-alice", nil, &run)
	if status != http.StatusOK {
		t.Fatalf("get run status %d body=%s", status, body)
	}
	if run.Answers[0].UserAnswer == nil || run.Answers[0].UserAnswer.String() != "Paris" {
		t.Fatalf("expected Paris for the first question, got %+v", run.Answers[0])
	}
	if run.Answers[2].LLMAnswer == nil || run.Answers[2].LLMAnswer.String() != "Pacific" || run.LLMModel != "ocean" {
		t.Fatalf("expected llm answer Pacific, got %+v", run.Answers[2])
	}

	var runs struct {
		Runs []domain.TestRun `json:"runs"`
	}
	status, _ = doJSON(t, ctx, http.MethodGet, base+"/jobs/"+accepted.JobID+"/runs", "tok-alice", nil, &runs)
	if status != http.StatusOK || len(runs.Runs) != 1 {
		t.Fatalf("list runs status %d: %+v", status, runs)
	}

	if form.count() != 1 {
		t.Fatalf("expected one form submission, got %d", form.count())
	}
	form.mu.Lock()
	sub := form.submissions[0]
	form.mu.Unlock()
	if sub.Get("entry.1001") != "Paris" || sub.Get("entry.1003") != "Pacific" {
		t.Fatalf("unexpected submission %v", sub)
	}

	select {
	case r := <-hooks:
		b := <-hookBodies
		ts := r.Header.Get(services.HeaderTimestamp)
		var n int64
		fmt.Sscan(ts, &n)
		if r.Header.Get(services.HeaderSignature) != services.Sign(hookSecret, n, b) {
			t.Fatal("webhook signature mismatch")
		}
		var ev services.JobCompletedEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			t.Fatalf("decode webhook: %v", err)
		}
		if ev.JobID != accepted.JobID || ev.Status != domain.JobCompleted || ev.Succeeded != 1 {
			t.Fatalf("unexpected webhook %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected webhook callback")
	}
}

// promptLog answers like oceanLLM and keeps every prompt it receives.
type promptLog struct {
	oceanLLM
	mu      sync.Mutex
	prompts []string
}

func (p *promptLog) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Messages[len(req.Messages)-1].Content)
	p.mu.Unlock()
	return p.oceanLLM.Complete(ctx, req)
}

func TestHTTPIntegrationDocumentContext(t *testing.T) {
	ctx := context.Background()
	formSrv := httptest.NewServer(&fakeForm{})
	t.Cleanup(formSrv.Close)
	client := &promptLog{}
	server := newTestApp(t, WithLLMClient(client))
	base := server.URL + "/v1/formq"

	var created struct {
		ID int64 `json:"id"`
	}
	doJSON(t, ctx, http.MethodPost, base+"/tests/google-form", "tok-alice",
		map[string]any{"url": formSrv.URL + "/forms/d/e/abc/viewform"}, &created)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="oceans.txt"`)
	h.Set("Content-Type", "text/plain")
	part, _ := w.CreatePart(h)
	_, _ = io.WriteString(part, "The Pacific is the largest ocean on Earth.")
	_ = w.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/tests/%d/documents", base, created.ID), &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer tok-alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d", resp.StatusCode)
	}

	var docs struct {
		Documents []domain.Document `json:"documents"`
	}
	status, raw := doJSON(t, ctx, http.MethodGet, fmt.Sprintf("%s/tests/%d/documents", base, created.ID), "tok-alice", nil, &docs)
	if status != http.StatusOK || len(docs.Documents) != 1 || docs.Documents[0].Chunks != 1 {
		t.Fatalf("list documents status %d body=%s", status, raw)
	}

	var accepted struct {
		JobID string `json:"job_id"`
	}
	doJSON(t, ctx, http.MethodPost, fmt.Sprintf("%s/tests/%d/submit", base, created.ID), "tok-alice", map[string]any{
		"quantity": 1,
		"answers":  []map[string]any{{"question_id": 1003, "answer_mode": "llm"}},
	}, &accepted)
	job := waitForJob(t, ctx, base, "tok-alice", accepted.JobID)
	if len(job.Results) != 1 || job.Results[0].Status != domain.RunCompleted {
		t.Fatalf("unexpected results %+v", job.Results)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.prompts) != 1 || !strings.Contains(client.prompts[0], "The Pacific is the largest ocean on Earth.") {
		t.Fatalf("prompt did not carry the uploaded document: %q", client.prompts)
	}
}

func TestHTTPIntegrationAuthAndHealth(t *testing.T) {
	ctx := context.Background()
	server := newTestApp(t)

	if status, _ := doJSON(t, ctx, http.MethodGet, server.URL+"/v1/formq/tests", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _ := doJSON(t, ctx, http.MethodGet, server.URL+"/v1/formq/jobs/missing", "tok-alice", nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", status)
	}
	if status, _ := doJSON(t, ctx, http.MethodGet, server.URL+"/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("expected healthy, got %d", status)
	}

	status, body := doJSON(t, ctx, http.MethodGet, server.URL+"/metrics", "", nil, nil)
	if status != http.StatusOK || !strings.Contains(body, "formq_jobs") {
		t.Fatalf("metrics missing job gauges: %d", status)
	}
}

func TestHTTPIntegrationSubmitValidation(t *testing.T) {
	ctx := context.Background()
	form := &fakeForm{}
	formSrv := httptest.NewServer(form)
	t.Cleanup(formSrv.Close)
	server := newTestApp(t)
	base := server.URL + "/v1/formq"

	var created struct {
		ID int64 `json:"id"`
	}
	doJSON(t, ctx, http.MethodPost, base+"/tests/google-form", "tok-alice",
		map[string]any{"url": formSrv.URL + "/forms/d/e/abc/viewform"}, &created)

	submit := fmt.Sprintf("%s/tests/%d/submit", base, created.ID)
	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"quantity over limit", map[string]any{"quantity": 5000}, http.StatusBadRequest},
		{"unknown mode", map[string]any{"quantity": 1, "answers": []map[string]any{{"question_id": 1001, "answer_mode": "psychic"}}}, http.StatusBadRequest},
		{"user mode without answer", map[string]any{"quantity": 1, "answers": []map[string]any{{"question_id": 1001, "answer_mode": "user"}}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if status, body := doJSON(t, ctx, http.MethodPost, submit, "tok-alice", tc.body, nil); status != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, status, body)
			}
		})
	}
	if status, _ := doJSON(t, ctx, http.MethodPost, fmt.Sprintf("%s/tests/%d/submit", base, created.ID), "tok-bob",
		map[string]any{"quantity": 1}, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 submitting another user's test, got %d", status)
	}
	if form.count() != 0 {
		t.Fatalf("rejected submissions must not reach the form, got %d", form.count())
	}
}

func waitForJob(t *testing.T, ctx context.Context, base, token, jobID string) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var job domain.Job
		status, body := doJSON(t, ctx, http.MethodGet, base+"/jobs/"+jobID, token, nil, &job)
		if status != http.StatusOK {
			t.Fatalf("job status %d body=%s", status, body)
		}
		if job.Status == domain.JobCompleted {
			return job
		}
		if job.Results != nil {
			t.Fatalf("results exposed before completion: %+v", job)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete: %+v", job)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func doJSON(t *testing.T, ctx context.Context, method, url, token string, body any, out any) (int, string) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewBuffer(b)
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_ = json.Unmarshal(b, out)
	}
	return resp.StatusCode, string(b)
}
