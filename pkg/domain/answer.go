package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type AnswerMode string

const (
	ModeUser   AnswerMode = "user"
	ModeRandom AnswerMode = "random"
	ModeLLM    AnswerMode = "llm"
)

func (m AnswerMode) Valid() bool {
	switch m {
	case ModeUser, ModeRandom, ModeLLM:
		return true
	}
	return false
}

// AnswerValue holds either a single string or a list of strings (multi-select).
type AnswerValue struct {
	text    string
	choices []string
	multi   bool
}

func TextAnswer(s string) AnswerValue { return AnswerValue{text: s} }

func ChoicesAnswer(choices ...string) AnswerValue {
	cp := make([]string, len(choices))
	copy(cp, choices)
	return AnswerValue{choices: cp, multi: true}
}

func (v AnswerValue) IsMulti() bool { return v.multi }

// Values returns the answer as form values: one element for text answers.
func (v AnswerValue) Values() []string {
	if !v.multi {
		return []string{v.text}
	}
	cp := make([]string, len(v.choices))
	copy(cp, v.choices)
	return cp
}

func (v AnswerValue) String() string {
	if v.multi {
		return strings.Join(v.choices, ", ")
	}
	return v.text
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	if v.multi {
		if v.choices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.choices)
	}
	return json.Marshal(v.text)
}

func (v *AnswerValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty answer value")
	}
	switch b[0] {
	case '[':
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return fmt.Errorf("answer list must contain strings: %w", err)
		}
		*v = ChoicesAnswer(list...)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = TextAnswer(s)
		return nil
	}
	// Scale answers are often sent as bare numbers.
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("answer must be a string or a list of strings")
	}
	*v = TextAnswer(n.String())
	return nil
}

// AnswerDirective tells a run how to obtain the answer for one question.
type AnswerDirective struct {
	QuestionID QuestionID   `json:"question_id"`
	Mode       AnswerMode   `json:"answer_mode"`
	Value      *AnswerValue `json:"answer,omitempty"`
}

func (d AnswerDirective) Validate() error {
	if d.QuestionID == "" {
		return fmt.Errorf("%w: question_id is required", ErrValidation)
	}
	if !d.Mode.Valid() {
		return fmt.Errorf("%w: unknown answer_mode %q for question %s", ErrValidation, d.Mode, d.QuestionID)
	}
	if d.Mode == ModeUser && d.Value == nil {
		return fmt.Errorf("%w: answer is required for user mode (question %s)", ErrValidation, d.QuestionID)
	}
	return nil
}

// ResolvedAnswer is a question together with the answer produced for it.
// At most one of UserAnswer, LLMAnswer and RandomAnswer is set and it
// matches Mode.
type ResolvedAnswer struct {
	QuestionID   QuestionID   `json:"id"`
	Prompt       string       `json:"question"`
	Type         QuestionType `json:"type"`
	Required     bool         `json:"required"`
	Options      []string     `json:"options,omitempty"`
	Mode         AnswerMode   `json:"answer_mode,omitempty"`
	UserAnswer   *AnswerValue `json:"user_answer"`
	LLMAnswer    *AnswerValue `json:"llm_answer"`
	RandomAnswer *AnswerValue `json:"random_answer"`
}

// Answer returns the first populated answer, in user, llm, random order.
func (r ResolvedAnswer) Answer() *AnswerValue {
	switch {
	case r.UserAnswer != nil:
		return r.UserAnswer
	case r.LLMAnswer != nil:
		return r.LLMAnswer
	case r.RandomAnswer != nil:
		return r.RandomAnswer
	}
	return nil
}
