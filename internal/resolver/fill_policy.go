package resolver

import (
	"math/rand"
	"sync"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"
)

// FillPolicy produces an answer for a question without user or model input.
type FillPolicy interface {
	Fill(q domain.QuestionDef) domain.AnswerValue
}

const (
	RequiredTextPlaceholder = "Ok!"
	DefaultEmailPlaceholder = "formq.filler@example.com"
)

// RandomFill picks options uniformly at random. Safe for concurrent use.
type RandomFill struct {
	mu    sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
	email string
}

// NewRandomFill builds a RandomFill. A nil rng is seeded from the clock and
// a nil clock uses time.Now.
func NewRandomFill(rng *rand.Rand, now func() time.Time, email string) *RandomFill {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	if email == "" {
		email = DefaultEmailPlaceholder
	}
	return &RandomFill{rng: rng, now: now, email: email}
}

func (f *RandomFill) Fill(q domain.QuestionDef) domain.AnswerValue {
	if q.ID == domain.QuestionEmailAddress {
		return domain.TextAnswer(f.email)
	}
	switch q.Type {
	case domain.TypeShortText, domain.TypeParagraph:
		if q.Required {
			return domain.TextAnswer(RequiredTextPlaceholder)
		}
		return domain.TextAnswer("")
	case domain.TypeSingleChoice, domain.TypeDropdown, domain.TypeLinearScale, domain.TypeGridChoice:
		opts := choosable(q.Options)
		if len(opts) == 0 {
			return domain.TextAnswer("")
		}
		f.mu.Lock()
		i := f.rng.Intn(len(opts))
		f.mu.Unlock()
		return domain.TextAnswer(opts[i])
	case domain.TypeMultiChoice:
		opts := choosable(q.Options)
		if len(opts) == 0 {
			return domain.TextAnswer("")
		}
		return domain.ChoicesAnswer(f.sample(opts)...)
	case domain.TypeDate:
		return domain.TextAnswer(f.now().Format("2006-01-02"))
	case domain.TypeTime:
		return domain.TextAnswer(f.now().Format("15:04"))
	default:
		return domain.TextAnswer("")
	}
}

// sample returns k distinct options, k uniform in 1..len(options), in option order.
func (f *RandomFill) sample(options []string) []string {
	f.mu.Lock()
	k := 1 + f.rng.Intn(len(options))
	perm := f.rng.Perm(len(options))
	f.mu.Unlock()

	picked := make([]bool, len(options))
	for _, i := range perm[:k] {
		picked[i] = true
	}
	out := make([]string, 0, k)
	for i, opt := range options {
		if picked[i] {
			out = append(out, opt)
		}
	}
	return out
}

// choosable drops the free-text "Other" placeholder unless it is the only option.
func choosable(options []string) []string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		if o != domain.AnyTextOption {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return options
	}
	return out
}
