package domain

import "time"

const TestTypeGoogleForm = "google_form"

// Test is an imported form owned by one user.
type Test struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"user_id"`
	Type        string        `json:"type"`
	URL         string        `json:"url,omitempty"`
	Title       string        `json:"title"`
	Questions   []QuestionDef `json:"questions"`
	IsSubmitted bool          `json:"is_submitted"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TestRun is the persisted record of one answered and submitted run.
type TestRun struct {
	ID                  int64            `json:"run_id"`
	TestID              int64            `json:"test_id"`
	UserID              string           `json:"user_id"`
	JobID               string           `json:"job_id"`
	Answers             []ResolvedAnswer `json:"run_content"`
	LLMModel            string           `json:"llm_model,omitempty"`
	LLMAttempts         int              `json:"llm_attempts,omitempty"`
	LLMTokens           int              `json:"tokens,omitempty"`
	LLMAnsweringSeconds float64          `json:"llm_answering_time,omitempty"`
	SubmittedAt         time.Time        `json:"submitted_date"`
}

// TestPatch carries the mutable fields of a test; nil fields are left as is.
type TestPatch struct {
	Title     *string        `json:"title,omitempty"`
	URL       *string        `json:"url,omitempty"`
	Questions *[]QuestionDef `json:"questions,omitempty"`
}
