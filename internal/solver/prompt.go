package solver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/formq/internal/llm"
	"github.com/osvaldoandrade/formq/pkg/domain"
)

const systemMessage = `You are the intelligent assistant of a Test Solving app.
You are given a list of questions in JSON format.`

const responseRules = `Rules:
- If options exist, choose one or many depending on the type description.
- When a question allows multiple answers send "answer": ["option1", "option2"].
- Otherwise generate a concise answer.
- Never add explanations, Markdown, comments or code.`

type promptQuestion struct {
	QuestionID      domain.QuestionID `json:"question_id"`
	Question        string            `json:"question"`
	Type            string            `json:"type"`
	TypeDescription string            `json:"type_description"`
	Options         []string          `json:"options,omitempty"`
}

// buildMessages renders the system instruction and the question batch.
// contextChunks are document excerpts placed ahead of the questions; feedback,
// when set, is the validation error from the previous attempt.
func buildMessages(questions []domain.QuestionDef, contextChunks []string, feedback string) []llm.Message {
	batch := make([]promptQuestion, 0, len(questions))
	for _, q := range questions {
		batch = append(batch, promptQuestion{
			QuestionID:      q.ID,
			Question:        q.Prompt,
			Type:            string(q.Type),
			TypeDescription: q.Type.Description(),
			Options:         q.Options,
		})
	}
	qs, _ := json.MarshalIndent(map[string]any{"questions": batch}, "", "  ")

	var b strings.Builder
	if len(contextChunks) > 0 {
		b.WriteString("Use the following reference material when it is relevant:\n")
		for i, c := range contextChunks {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
		}
		b.WriteString("\n")
	}
	b.WriteString("Questions:\n")
	b.Write(qs)
	b.WriteString("\n\nReturn ONLY a JSON object matching this JSON schema:\n")
	b.WriteString(AnswerSchema())
	b.WriteString("\n")
	b.WriteString(responseRules)
	if feedback != "" {
		b.WriteString("\n\nYour previous answer was rejected. Fix this error and answer again: ")
		b.WriteString(feedback)
	}

	return []llm.Message{
		{Role: "system", Content: systemMessage},
		{Role: "user", Content: b.String()},
	}
}
