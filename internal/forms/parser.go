package forms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/internal/tracing"
	"github.com/osvaldoandrade/formq/pkg/domain"
)

const (
	formDataVar       = "FB_PUBLIC_LOAD_DATA_"
	sectionHeaderType = 8
	maxFormPageBytes  = 8 << 20
)

var formDataPattern = regexp.MustCompile(`var\s+` + formDataVar + `\s*=\s*`)

// ParsedForm is the question list extracted from a form page.
type ParsedForm struct {
	Title     string
	Questions []domain.QuestionDef
}

type Parser interface {
	Parse(ctx context.Context, formURL string) (*ParsedForm, error)
}

type GoogleFormParser struct {
	client *http.Client
	logger *slog.Logger
}

func NewGoogleFormParser(timeout time.Duration, logger *slog.Logger) *GoogleFormParser {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleFormParser{client: &http.Client{Timeout: timeout}, logger: logger}
}

// ResponseURL converts a form view URL into the URL that accepts submissions.
func ResponseURL(formURL string) string {
	u := strings.Replace(formURL, "/viewform", "/formResponse", 1)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if !strings.HasSuffix(u, "/formResponse") {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		u += "formResponse"
	}
	return u
}

// ValidateURL checks that formURL is an absolute http(s) URL.
func ValidateURL(formURL string) error {
	u, err := url.Parse(strings.TrimSpace(formURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid form url %q", domain.ErrValidation, formURL)
	}
	return nil
}

func (p *GoogleFormParser) Parse(ctx context.Context, formURL string) (*ParsedForm, error) {
	if err := ValidateURL(formURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ResponseURL(formURL), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build form request: %v", domain.ErrValidation, err)
	}
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch form: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch form: status %d", domain.ErrUpstream, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFormPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read form: %v", domain.ErrUpstream, err)
	}

	data, err := extractFormData(string(body))
	if err != nil {
		p.logger.Warn("form data not found", "url", formURL, "err", err)
		return nil, fmt.Errorf("%w: cannot read form data, the form may require login: %v", domain.ErrValidation, err)
	}
	form, err := ParseFormData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return form, nil
}

func extractFormData(html string) ([]any, error) {
	loc := formDataPattern.FindStringIndex(html)
	if loc == nil {
		return nil, fmt.Errorf("%s not found", formDataVar)
	}
	dec := json.NewDecoder(strings.NewReader(html[loc[1]:]))
	dec.UseNumber()
	var data []any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", formDataVar, err)
	}
	return data, nil
}

// ParseFormData walks the decoded FB_PUBLIC_LOAD_DATA_ structure.
func ParseFormData(data []any) (*ParsedForm, error) {
	info := list(at(data, 1))
	entries := list(at(info, 1))
	if info == nil || entries == nil {
		return nil, fmt.Errorf("unexpected form data structure")
	}

	form := &ParsedForm{Title: str(at(info, 8))}
	if form.Title == "" {
		form.Title = str(at(data, 3))
	}

	pages := 0
	for _, raw := range entries {
		entry := list(raw)
		typeID, ok := num(at(entry, 3))
		if !ok {
			continue
		}
		if typeID == sectionHeaderType {
			pages++
			continue
		}
		title := str(at(entry, 1))
		for _, rawSub := range list(at(entry, 4)) {
			sub := list(rawSub)
			id, ok := idString(at(sub, 0))
			if !ok {
				continue
			}
			q := domain.QuestionDef{
				ID:       domain.QuestionID(id),
				Prompt:   title,
				Type:     domain.QuestionTypeFromFormID(int(typeID)),
				Required: isOne(at(sub, 2)),
			}
			if rows := strs(at(sub, 3)); len(rows) > 0 {
				q.Prompt = title + ": " + strings.Join(rows, " - ")
			}
			for _, rawOpt := range list(at(sub, 1)) {
				opt := str(at(list(rawOpt), 0))
				if opt == "" {
					opt = domain.AnyTextOption
				}
				q.Options = append(q.Options, opt)
			}
			form.Questions = append(form.Questions, q)
		}
	}

	if mode, ok := num(at(list(at(info, 10)), 6)); ok && mode > 1 {
		form.Questions = append(form.Questions, domain.QuestionDef{
			ID:       domain.QuestionEmailAddress,
			Prompt:   "Email Address",
			Type:     domain.TypeUnknown,
			Required: true,
		})
	}
	if pages > 0 {
		history := make([]string, 0, pages+1)
		for i := 0; i <= pages; i++ {
			history = append(history, strconv.Itoa(i))
		}
		form.Questions = append(form.Questions, domain.QuestionDef{
			ID:           domain.QuestionPageHistory,
			Prompt:       "Page History",
			Type:         domain.TypeUnknown,
			DefaultValue: strings.Join(history, ","),
		})
	}
	return form, nil
}

func at(v any, i int) any {
	l, ok := v.([]any)
	if !ok || i < 0 || i >= len(l) {
		return nil
	}
	return l[i]
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strs(v any) []string {
	var out []string
	for _, x := range list(v) {
		if s, ok := x.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func num(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		return int64(n), true
	}
	return 0, false
}

func isOne(v any) bool {
	n, ok := num(v)
	return ok && n == 1
}

func idString(v any) (string, bool) {
	switch x := v.(type) {
	case json.Number:
		return x.String(), true
	case string:
		return x, x != ""
	}
	return "", false
}
