package llm

import (
	"context"
	"errors"
	"strings"
)

type Provider string

const (
	ProviderGemini Provider = "gemini"
)

// Request is a chat completion request.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type Response struct {
	Content     string
	Model       string
	TotalTokens int
}

// Client is implemented by every inference backend.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() Provider
	Model() string
}

var (
	ErrInvalidResponse = errors.New("invalid LLM response")
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrProviderError   = errors.New("provider error")
	ErrNotConfigured   = errors.New("llm provider not configured")
)

// StripCodeFence removes a surrounding ``` or ```json fence from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an info string such as "json" on the opening line.
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
