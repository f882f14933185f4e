package solver

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/formq/internal/llm"
	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// AnswerSchema is the output schema shown to the model and enforced on its reply.
func AnswerSchema() string {
	b, _ := schemasFS.ReadFile("schemas/answers.schema.json")
	return string(b)
}

// AnswerValidator checks raw model output against the answer schema and the
// set of requested question ids.
type AnswerValidator struct {
	schema *jsonschema.Schema
}

func NewAnswerValidator() (*AnswerValidator, error) {
	data, err := schemasFS.ReadFile("schemas/answers.schema.json")
	if err != nil {
		return nil, fmt.Errorf("read answer schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal answer schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("answers.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("answers.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile answer schema: %w", err)
	}
	return &AnswerValidator{schema: schema}, nil
}

type answerSet struct {
	Questions []struct {
		QuestionID domain.QuestionID  `json:"question_id"`
		Answer     domain.AnswerValue `json:"answer"`
	} `json:"questions"`
}

// Validate parses raw and returns the answers keyed by question id.
// Requested ids absent from the output are not an error.
func (v *AnswerValidator) Validate(raw string, requested map[domain.QuestionID]bool) (map[domain.QuestionID]domain.AnswerValue, error) {
	text := llm.StripCodeFence(raw)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	// Models occasionally return the bare list instead of the wrapping object.
	if list, ok := doc.([]any); ok {
		doc = map[string]any{"questions": list}
		wrapped, _ := json.Marshal(map[string]json.RawMessage{"questions": json.RawMessage(text)})
		text = string(wrapped)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema violation: %s", flattenSchemaError(err))
	}

	var set answerSet
	if err := json.Unmarshal([]byte(text), &set); err != nil {
		return nil, fmt.Errorf("decode answers: %v", err)
	}

	out := make(map[domain.QuestionID]domain.AnswerValue, len(set.Questions))
	for _, q := range set.Questions {
		if !requested[q.QuestionID] {
			return nil, fmt.Errorf("unknown question_id %q", q.QuestionID)
		}
		if _, dup := out[q.QuestionID]; dup {
			return nil, fmt.Errorf("duplicate question_id %q", q.QuestionID)
		}
		out[q.QuestionID] = q.Answer
	}
	return out, nil
}

func flattenSchemaError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var parts []string
	collectLeaves(ve, &parts)
	if len(parts) == 0 {
		return strings.ReplaceAll(ve.Error(), "\n", "; ")
	}
	return strings.Join(parts, "; ")
}

func collectLeaves(ve *jsonschema.ValidationError, parts *[]string) {
	if len(ve.Causes) == 0 {
		msg := strings.ReplaceAll(ve.Error(), "\n", " ")
		*parts = append(*parts, "/"+strings.Join(ve.InstanceLocation, "/")+": "+msg)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, parts)
	}
}
