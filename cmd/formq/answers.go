package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/osvaldoandrade/formq/pkg/domain"

	"gopkg.in/yaml.v3"
)

// submission is the body of POST /tests/:id/submit. Files passed with
// --answers may hold the whole body or only the answers list.
type submission struct {
	Quantity int                      `json:"quantity,omitempty"`
	Answers  []domain.AnswerDirective `json:"answers"`
	Webhook  string                   `json:"webhook,omitempty"`
}

func loadSubmissionFile(path string) (submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return submission{}, err
	}
	return parseSubmission(data)
}

// parseSubmission accepts YAML or JSON. YAML is decoded generically and
// re-encoded as JSON so answer values keep their string/list semantics.
func parseSubmission(data []byte) (submission, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return submission{}, fmt.Errorf("parse answers: %w", err)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return submission{}, fmt.Errorf("parse answers: %w", err)
	}
	var out submission
	if _, isList := raw.([]any); isList {
		err = json.Unmarshal(b, &out.Answers)
	} else {
		err = json.Unmarshal(b, &out)
	}
	if err != nil {
		return submission{}, fmt.Errorf("parse answers: %w", err)
	}
	for _, d := range out.Answers {
		if err := d.Validate(); err != nil {
			return submission{}, err
		}
	}
	return out, nil
}

// parseAnswerFlag reads "<question>=<mode>[:<value>]". A user value with
// '|' separators becomes a multi-choice answer.
func parseAnswerFlag(s string) (domain.AnswerDirective, error) {
	id, rest, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return domain.AnswerDirective{}, fmt.Errorf("answer %q: expected <question>=<mode>[:<value>]", s)
	}
	mode, value, hasValue := strings.Cut(rest, ":")
	d := domain.AnswerDirective{
		QuestionID: domain.QuestionID(strings.TrimSpace(id)),
		Mode:       domain.AnswerMode(strings.ToLower(strings.TrimSpace(mode))),
	}
	if hasValue {
		var v domain.AnswerValue
		if strings.Contains(value, "|") {
			v = domain.ChoicesAnswer(strings.Split(value, "|")...)
		} else {
			v = domain.TextAnswer(value)
		}
		d.Value = &v
	}
	if err := d.Validate(); err != nil {
		return domain.AnswerDirective{}, fmt.Errorf("answer %q: %w", s, err)
	}
	return d, nil
}

func loadQuestionsFile(path string) ([]domain.QuestionDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	var out []domain.QuestionDef
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	return out, nil
}
