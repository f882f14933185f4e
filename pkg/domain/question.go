package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// QuestionID is the external form field identifier. Forms use numeric ids
// for regular entries and names for synthetic fields (emailAddress,
// pageHistory), so both JSON numbers and strings are accepted.
type QuestionID string

func (id *QuestionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = QuestionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("question id must be a string or number: %w", err)
	}
	*id = QuestionID(n.String())
	return nil
}

func (id QuestionID) String() string { return string(id) }

const (
	QuestionEmailAddress QuestionID = "emailAddress"
	QuestionPageHistory  QuestionID = "pageHistory"
)

// Synthetic reports whether the id is a form-level field rather than an entry.
func (id QuestionID) Synthetic() bool {
	return id == QuestionEmailAddress || id == QuestionPageHistory
}

// AnyTextOption stands in for a free-text "Other" option on choice questions.
const AnyTextOption = "ANY TEXT!!"

type QuestionType string

const (
	TypeShortText    QuestionType = "short_text"
	TypeParagraph    QuestionType = "paragraph"
	TypeSingleChoice QuestionType = "single_choice"
	TypeDropdown     QuestionType = "dropdown"
	TypeMultiChoice  QuestionType = "multi_choice"
	TypeLinearScale  QuestionType = "linear_scale"
	TypeGridChoice   QuestionType = "grid_choice"
	TypeDate         QuestionType = "date"
	TypeTime         QuestionType = "time"
	TypeUnknown      QuestionType = "unknown"
)

var formTypeIDs = map[int]QuestionType{
	0:  TypeShortText,
	1:  TypeParagraph,
	2:  TypeSingleChoice,
	3:  TypeDropdown,
	4:  TypeMultiChoice,
	5:  TypeLinearScale,
	7:  TypeGridChoice,
	9:  TypeDate,
	10: TypeTime,
}

// QuestionTypeFromFormID maps a Google Forms item type id to a QuestionType.
func QuestionTypeFromFormID(id int) QuestionType {
	if t, ok := formTypeIDs[id]; ok {
		return t
	}
	return TypeUnknown
}

var typeDescriptions = map[QuestionType]string{
	TypeShortText:    "Short answer (single-line text input)",
	TypeParagraph:    "Paragraph (multi-line text input)",
	TypeSingleChoice: "Multiple choice (select one option)",
	TypeDropdown:     "Dropdown (select one option from a list)",
	TypeMultiChoice:  "Checkboxes (select multiple options)",
	TypeLinearScale:  "Linear scale (rating scale, e.g., 1-5)",
	TypeGridChoice:   "Grid choice (matrix of options)",
	TypeDate:         "Date (format: YYYY-MM-DD)",
	TypeTime:         "Time (format: HH:MM, 24-hour format)",
}

// Description is the human readable form of the type, embedded in LLM prompts.
func (t QuestionType) Description() string {
	if d, ok := typeDescriptions[t]; ok {
		return d
	}
	return "Type: Unknown"
}

func (t QuestionType) MarshalText() ([]byte, error) { return []byte(string(t)), nil }

type QuestionDef struct {
	ID       QuestionID   `json:"id"`
	Prompt   string       `json:"question"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
	Options  []string     `json:"options,omitempty"`
	// DefaultValue is sent to the form when no directive resolved the question.
	DefaultValue string `json:"default_value,omitempty"`
}
