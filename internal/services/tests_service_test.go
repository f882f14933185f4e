package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osvaldoandrade/formq/internal/forms"
	"github.com/osvaldoandrade/formq/pkg/domain"
)

type stubParser struct {
	form  *forms.ParsedForm
	err   error
	calls []string
}

func (p *stubParser) Parse(ctx context.Context, formURL string) (*forms.ParsedForm, error) {
	p.calls = append(p.calls, formURL)
	if p.err != nil {
		return nil, p.err
	}
	return p.form, nil
}

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestTestsServiceImport(t *testing.T) {
	ctx := context.Background()
	p := newStorage(t)
	parser := &stubParser{form: &forms.ParsedForm{Title: "Geography quiz", Questions: geographyQuestions()}}
	svc := NewTestsService(p.TestStorage(), p.RunStorage(), parser, nil, fixedNow)

	test, err := svc.Import(ctx, "u1", " https://docs.google.com/forms/d/e/abc/viewform ", "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if test.ID == 0 || test.Title != "Geography quiz" || test.Type != domain.TestTypeGoogleForm {
		t.Fatalf("unexpected test %+v", test)
	}
	if test.URL != "https://docs.google.com/forms/d/e/abc/viewform" {
		t.Fatalf("url not trimmed: %q", test.URL)
	}
	if len(parser.calls) != 1 || parser.calls[0] != test.URL {
		t.Fatalf("unexpected parser calls %v", parser.calls)
	}

	named, err := svc.Import(ctx, "u1", "https://docs.google.com/forms/d/e/abc/viewform", "My title")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if named.Title != "My title" || named.ID == test.ID {
		t.Fatalf("unexpected second test %+v", named)
	}

	list, err := svc.List(ctx, "u1")
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	if others, _ := svc.List(ctx, "u2"); len(others) != 0 {
		t.Fatalf("another user sees %d tests", len(others))
	}
	if _, err := svc.Get(ctx, "u2", test.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTestsServiceImportErrors(t *testing.T) {
	ctx := context.Background()
	p := newStorage(t)

	parser := &stubParser{}
	svc := NewTestsService(p.TestStorage(), p.RunStorage(), parser, nil, nil)
	if _, err := svc.Import(ctx, "u1", "not a url", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(parser.calls) != 0 {
		t.Fatal("parser must not be called for an invalid url")
	}

	parser.err = domain.ErrUpstream
	if _, err := svc.Import(ctx, "u1", "https://docs.google.com/forms/d/e/abc/viewform", ""); !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestTestsServiceUpdate(t *testing.T) {
	ctx := context.Background()
	p := newStorage(t)
	test := seedTest(t, p, "u1", "https://docs.google.com/forms/d/e/abc/viewform", geographyQuestions())
	svc := NewTestsService(p.TestStorage(), p.RunStorage(), &stubParser{}, nil, fixedNow)

	title := "  Renamed "
	updated, err := svc.Update(ctx, "u1", test.ID, domain.TestPatch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Renamed" || len(updated.Questions) != 2 {
		t.Fatalf("unexpected update %+v", updated)
	}

	stored, _ := svc.Get(ctx, "u1", test.ID)
	if stored.Title != "Renamed" {
		t.Fatalf("update not persisted: %+v", stored)
	}

	badURL := "ftp://nowhere"
	dup := []domain.QuestionDef{{ID: "1", Type: domain.TypeShortText}, {ID: "1", Type: domain.TypeShortText}}
	blank := []domain.QuestionDef{{Type: domain.TypeShortText}}

	tests := []struct {
		name  string
		user  string
		patch domain.TestPatch
		want  error
	}{
		{"invalid url", "u1", domain.TestPatch{URL: &badURL}, domain.ErrValidation},
		{"duplicate question ids", "u1", domain.TestPatch{Questions: &dup}, domain.ErrValidation},
		{"question without id", "u1", domain.TestPatch{Questions: &blank}, domain.ErrValidation},
		{"another user", "u2", domain.TestPatch{Title: &title}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Update(ctx, tt.user, test.ID, tt.patch); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	empty := ""
	cleared, err := svc.Update(ctx, "u1", test.ID, domain.TestPatch{URL: &empty})
	if err != nil {
		t.Fatalf("clear url: %v", err)
	}
	if cleared.URL != "" {
		t.Fatalf("expected url cleared, got %q", cleared.URL)
	}
}

func TestTestsServiceRunLookups(t *testing.T) {
	ctx := context.Background()
	p := newStorage(t)
	test := seedTest(t, p, "u1", "", geographyQuestions())
	exec := newExecutor(p, nil, nil)
	svc := NewTestsService(p.TestStorage(), p.RunStorage(), &stubParser{}, nil, nil)

	var ids []int64
	for i := 0; i < 2; i++ {
		out := exec.Execute(ctx, RunRequest{TestID: test.ID, JobID: "job-9", UserID: "u1"})
		if !out.Succeeded() {
			t.Fatalf("run failed: %+v", out)
		}
		ids = append(ids, out.RunID)
	}

	runs, err := svc.ListRuns(ctx, "u1", " job-9 ")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[0] || runs[1].ID != ids[1] {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if others, _ := svc.ListRuns(ctx, "u2", "job-9"); len(others) != 0 {
		t.Fatalf("another user sees %d runs", len(others))
	}

	run, err := svc.GetRun(ctx, "u1", ids[0])
	if err != nil || run.TestID != test.ID {
		t.Fatalf("get run: %v %+v", err, run)
	}
	if _, err := svc.GetRun(ctx, "u2", ids[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
