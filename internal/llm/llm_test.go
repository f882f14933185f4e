package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"fence on one line", "```json {\"a\":1}```", `{"a":1}`},
		{"surrounding whitespace", "  \n```JSON\n{}\n```  ", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.in); got != tt.want {
				t.Errorf("StripCodeFence() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGeminiComplete(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"questions\":[]}"}]}}],"usageMetadata":{"totalTokenCount":17}}`))
	}))
	defer srv.Close()

	c := NewGeminiClient(GeminiConfig{APIKey: "k", Model: "gemini-test", BaseURL: srv.URL}, nil)
	resp, err := c.Complete(context.Background(), Request{Messages: []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if gotPath != "/models/gemini-test:generateContent" {
		t.Errorf("path = %s", gotPath)
	}
	if gotKey != "k" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotBody.SystemInstruct == nil || gotBody.SystemInstruct.Parts[0].Text != "be brief" {
		t.Errorf("system instruction not sent: %+v", gotBody.SystemInstruct)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Role != "user" {
		t.Errorf("contents = %+v", gotBody.Contents)
	}
	if resp.Content != `{"questions":[]}` || resp.TotalTokens != 17 || resp.Model != "gemini-test" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestGeminiErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrRateLimit},
		{"provider error", http.StatusBadRequest, `{"error":{"code":400,"message":"bad key"}}`, ErrProviderError},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, ErrInvalidResponse},
		{"not json", http.StatusOK, `<html>`, ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL}, nil)
			_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGeminiTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	if _, err := c.Complete(context.Background(), Request{}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestNewWithoutKey(t *testing.T) {
	c, err := New(Config{Model: "gemini-2.5-flash"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Complete(context.Background(), Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if _, err := New(Config{Provider: "clippy"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
