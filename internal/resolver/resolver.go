package resolver

import (
	"fmt"

	"github.com/osvaldoandrade/formq/pkg/domain"
)

// Resolver turns a question and its optional directive into a ResolvedAnswer.
// LLM answers are not produced here; they are left as placeholders for the solver.
type Resolver interface {
	Resolve(q domain.QuestionDef, d *domain.AnswerDirective) (domain.ResolvedAnswer, error)
}

type resolver struct {
	fill FillPolicy
}

func New(fill FillPolicy) Resolver {
	if fill == nil {
		fill = NewRandomFill(nil, nil, "")
	}
	return &resolver{fill: fill}
}

func (r *resolver) Resolve(q domain.QuestionDef, d *domain.AnswerDirective) (domain.ResolvedAnswer, error) {
	out := domain.ResolvedAnswer{
		QuestionID: q.ID,
		Prompt:     q.Prompt,
		Type:       q.Type,
		Required:   q.Required,
		Options:    q.Options,
	}
	if d == nil {
		return out, nil
	}
	switch d.Mode {
	case domain.ModeUser:
		out.Mode = domain.ModeUser
		if d.Value != nil {
			v := *d.Value
			out.UserAnswer = &v
		}
	case domain.ModeRandom:
		out.Mode = domain.ModeRandom
		v := r.fill.Fill(q)
		out.RandomAnswer = &v
	case domain.ModeLLM:
		out.Mode = domain.ModeLLM
	default:
		return domain.ResolvedAnswer{}, fmt.Errorf("%w: unknown answer_mode %q for question %s", domain.ErrValidation, d.Mode, q.ID)
	}
	return out, nil
}

// ResolveAll resolves every question in order. Directives are matched by
// question id; questions without a directive pass through untouched.
func ResolveAll(r Resolver, questions []domain.QuestionDef, directives []domain.AnswerDirective) ([]domain.ResolvedAnswer, error) {
	byID := make(map[domain.QuestionID]*domain.AnswerDirective, len(directives))
	for i := range directives {
		byID[directives[i].QuestionID] = &directives[i]
	}
	out := make([]domain.ResolvedAnswer, 0, len(questions))
	for _, q := range questions {
		ra, err := r.Resolve(q, byID[q.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, ra)
	}
	return out, nil
}
