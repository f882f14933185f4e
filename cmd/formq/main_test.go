package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/osvaldoandrade/formq/pkg/domain"
)

func TestParseAnswerFlag(t *testing.T) {
	cases := []struct {
		in      string
		id      domain.QuestionID
		mode    domain.AnswerMode
		values  []string
		wantErr bool
	}{
		{in: "1001=user:Paris", id: "1001", mode: domain.ModeUser, values: []string{"Paris"}},
		{in: "1002=user:red|blue", id: "1002", mode: domain.ModeUser, values: []string{"red", "blue"}},
		{in: "1003=LLM", id: "1003", mode: domain.ModeLLM},
		{in: "1004=random", id: "1004", mode: domain.ModeRandom},
		{in: "1005=user:a:b", id: "1005", mode: domain.ModeUser, values: []string{"a:b"}},
		{in: "1006=user", wantErr: true},
		{in: "1007=guess", wantErr: true},
		{in: "=llm", wantErr: true},
		{in: "nomode", wantErr: true},
	}
	for _, tc := range cases {
		d, err := parseAnswerFlag(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if d.QuestionID != tc.id || d.Mode != tc.mode {
			t.Fatalf("%s: got %+v", tc.in, d)
		}
		if tc.values == nil {
			if d.Value != nil {
				t.Fatalf("%s: unexpected value %v", tc.in, d.Value)
			}
			continue
		}
		got := d.Value.Values()
		if strings.Join(got, ",") != strings.Join(tc.values, ",") {
			t.Fatalf("%s: values %v", tc.in, got)
		}
	}
}

func TestParseSubmissionYAML(t *testing.T) {
	sub, err := parseSubmission([]byte(`
quantity: 3
webhook: https://hooks.example.com/formq
answers:
  - question_id: 1001
    answer_mode: user
    answer: Paris
  - question_id: "1002"
    answer_mode: user
    answer: [red, blue]
  - question_id: 1003
    answer_mode: llm
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub.Quantity != 3 || sub.Webhook != "https://hooks.example.com/formq" {
		t.Fatalf("unexpected header fields: %+v", sub)
	}
	if len(sub.Answers) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(sub.Answers))
	}
	if sub.Answers[0].QuestionID != "1001" || sub.Answers[0].Value.String() != "Paris" {
		t.Fatalf("unexpected first answer: %+v", sub.Answers[0])
	}
	if !sub.Answers[1].Value.IsMulti() || len(sub.Answers[1].Value.Values()) != 2 {
		t.Fatalf("expected multi answer, got %v", sub.Answers[1].Value)
	}
	if sub.Answers[2].Value != nil {
		t.Fatalf("llm directive should carry no value")
	}
}

func TestParseSubmissionBareJSONList(t *testing.T) {
	sub, err := parseSubmission([]byte(`[{"question_id":"1001","answer_mode":"random"}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub.Quantity != 0 || len(sub.Answers) != 1 || sub.Answers[0].Mode != domain.ModeRandom {
		t.Fatalf("unexpected submission: %+v", sub)
	}
}

func TestParseSubmissionRejectsInvalidDirective(t *testing.T) {
	if _, err := parseSubmission([]byte(`[{"question_id":"1001","answer_mode":"user"}]`)); err == nil {
		t.Fatal("expected error for user mode without an answer")
	}
}

func TestSubmitFlagsBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.yaml")
	content := "quantity: 2\nanswers:\n  - question_id: 1001\n    answer_mode: random\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	f := submitFlags{answersFile: path, answers: []string{"1001=user:Paris", "1003=llm"}, quantity: 5}
	sub, err := f.build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sub.Quantity != 5 {
		t.Fatalf("flag quantity should win, got %d", sub.Quantity)
	}
	if len(sub.Answers) != 2 || sub.Answers[0].Mode != domain.ModeUser || sub.Answers[1].QuestionID != "1003" {
		t.Fatalf("unexpected answers: %+v", sub.Answers)
	}

	if _, err := (&submitFlags{answers: []string{"1001=llm"}}).build(); err == nil {
		t.Fatal("expected error without a quantity")
	}
}

func TestStreamURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":      "ws://localhost:8080/v1/formq/jobs/abc/stream",
		"https://formq.example.com/": "wss://formq.example.com/v1/formq/jobs/abc/stream",
		"https://example.com/api":    "wss://example.com/api/v1/formq/jobs/abc/stream",
	}
	for in, want := range cases {
		got, err := streamURL(in, "abc")
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s: got %s want %s", in, got, want)
		}
	}
}

func TestProfileConfigRoundTrip(t *testing.T) {
	t.Setenv("FORMQ_CONFIG_DIR", t.TempDir())
	t.Setenv("FORMQ_PROFILE", "")

	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if resolveProfileName("", cfg) != "default" {
		t.Fatalf("expected default profile")
	}
	cfg.Profiles["staging"] = profile{BaseURL: "https://staging.example.com", Token: "tok-1234567890"}
	cfg.CurrentProfile = "staging"
	if err := saveConfig(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, _, err := loadConfig()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if resolveProfileName("", loaded) != "staging" {
		t.Fatalf("expected current profile to be staging")
	}
	if resolveProfileName(" ci ", loaded) != "ci" {
		t.Fatalf("flag should win over current profile")
	}
	t.Setenv("FORMQ_PROFILE", "env")
	if resolveProfileName("", loaded) != "env" {
		t.Fatalf("env should win over current profile")
	}
	if loaded.Profiles["staging"].Token != "tok-1234567890" {
		t.Fatalf("token not persisted")
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken(""); got != "<unset>" {
		t.Fatalf("got %q", got)
	}
	if got := maskToken("short"); got != "****" {
		t.Fatalf("got %q", got)
	}
	if got := maskToken("abcd-secret-wxyz"); got != "abcd...wxyz" {
		t.Fatalf("got %q", got)
	}
}

func TestClientDoSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/formq/jobs/missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"job not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"job_id":"j1","status":"completed","total_runs":2,"processed_runs_count":2,"results":[{"status":"completed","run_id":4},{"status":"failed","error":"boom"}]}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL+"/", "tok")
	var j domain.Job
	if err := c.do("GET", "/v1/formq/jobs/j1", nil, &j); err != nil {
		t.Fatalf("do: %v", err)
	}
	if !j.Status.Terminal() || j.Succeeded() != 1 || j.Results[1].Error != "boom" {
		t.Fatalf("unexpected job: %+v", j)
	}

	err := c.do("GET", "/v1/formq/jobs/missing", nil, &j)
	if err == nil || err.Error() != "error (404): job not found" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDocumentContentType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"notes.TXT", []byte("x"), "text/plain"},
		{"scan.pdf", []byte("anything"), "application/pdf"},
		{"README", []byte("plain words"), "text/plain"},
		{"image", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "image/png"},
	}
	for _, tc := range cases {
		if got := documentContentType(tc.name, tc.data); got != tc.want {
			t.Errorf("documentContentType(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClientUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/formq/tests/3/documents" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		if fh.Filename != "notes.txt" || fh.Header.Get("Content-Type") != "text/plain" || string(b) != "Paris" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unexpected part"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":9,"test_id":3,"original_file_name":"notes.txt","chunks":1}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "tok")
	var doc domain.Document
	if err := c.upload("/v1/formq/tests/3/documents", "notes.txt", "text/plain", []byte("Paris"), &doc); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.ID != 9 || doc.Chunks != 1 {
		t.Fatalf("document = %+v", doc)
	}
	if err := c.upload("/v1/formq/tests/4/documents", "notes.txt", "text/plain", []byte("Paris"), nil); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}
