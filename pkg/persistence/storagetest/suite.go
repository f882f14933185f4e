// Package storagetest holds behaviour checks shared by every persistence plugin.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"
)

// Run exercises p through the TestStorage, RunStorage and DocumentStorage contracts.
func Run(t *testing.T, p persistence.PluginPersistence) {
	t.Helper()
	ctx := context.Background()

	if err := p.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	tests := p.TestStorage()
	first := &domain.Test{
		UserID: "alice",
		Type:   domain.TestTypeGoogleForm,
		URL:    "https://forms.example/viewform",
		Title:  "Capitals",
		Questions: []domain.QuestionDef{
			{ID: "1", Prompt: "Capital of France?", Type: domain.TypeSingleChoice, Options: []string{"Paris", "Rome"}, Required: true},
			{ID: domain.QuestionPageHistory, Type: domain.TypeUnknown, DefaultValue: "0,1"},
		},
	}
	if err := tests.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.ID == 0 {
		t.Fatal("Create() did not assign an id")
	}
	second := &domain.Test{UserID: "alice", Type: domain.TestTypeGoogleForm, Title: "Second"}
	if err := tests.Create(ctx, second); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("ids must be unique")
	}

	got, err := tests.Get(ctx, "alice", first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "Capitals" || len(got.Questions) != 2 || got.Questions[0].Options[0] != "Paris" || got.Questions[1].DefaultValue != "0,1" {
		t.Errorf("Get() = %+v", got)
	}
	if got.IsSubmitted {
		t.Error("new test must not be submitted")
	}

	if _, err := tests.Get(ctx, "bob", first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() by another user err = %v, want ErrNotFound", err)
	}
	if _, err := tests.Get(ctx, "alice", 99999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() missing err = %v, want ErrNotFound", err)
	}

	list, err := tests.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("List() = %d tests, first id %v", len(list), list)
	}
	if others, _ := tests.List(ctx, "bob"); len(others) != 0 {
		t.Errorf("List(bob) = %v", others)
	}

	got.Title = "Renamed"
	got.Questions = got.Questions[:1]
	if err := tests.Update(ctx, got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	again, _ := tests.Get(ctx, "alice", first.ID)
	if again.Title != "Renamed" || len(again.Questions) != 1 {
		t.Errorf("after Update() = %+v", again)
	}
	stranger := *again
	stranger.UserID = "bob"
	if err := tests.Update(ctx, &stranger); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update() by another user err = %v", err)
	}

	if err := tests.MarkSubmitted(ctx, "alice", first.ID); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}
	if again, _ = tests.Get(ctx, "alice", first.ID); !again.IsSubmitted {
		t.Error("MarkSubmitted() not persisted")
	}
	if err := tests.MarkSubmitted(ctx, "bob", first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarkSubmitted() by another user err = %v", err)
	}

	runs := p.RunStorage()
	answer := domain.TextAnswer("Paris")
	var ids []int64
	for i := 0; i < 3; i++ {
		run := &domain.TestRun{
			TestID:      first.ID,
			UserID:      "alice",
			JobID:       "job-1",
			SubmittedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			LLMModel:    "gemini-2.5-flash",
			LLMAttempts: 1,
			Answers: []domain.ResolvedAnswer{
				{QuestionID: "1", Prompt: "Capital of France?", Type: domain.TypeSingleChoice, Mode: domain.ModeLLM, LLMAnswer: &answer},
			},
		}
		if err := runs.Save(ctx, run); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		ids = append(ids, run.ID)
	}
	other := &domain.TestRun{TestID: first.ID, UserID: "alice", JobID: "job-2"}
	if err := runs.Save(ctx, other); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	run, err := runs.Get(ctx, "alice", ids[0])
	if err != nil {
		t.Fatalf("Get() run error = %v", err)
	}
	if run.JobID != "job-1" || run.LLMModel != "gemini-2.5-flash" || len(run.Answers) != 1 || run.Answers[0].LLMAnswer.String() != "Paris" {
		t.Errorf("run = %+v", run)
	}
	if !run.SubmittedAt.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("submitted at = %v", run.SubmittedAt)
	}
	if _, err := runs.Get(ctx, "bob", ids[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() run by another user err = %v", err)
	}

	byJob, err := runs.ListByJob(ctx, "alice", "job-1")
	if err != nil {
		t.Fatalf("ListByJob() error = %v", err)
	}
	if len(byJob) != 3 {
		t.Fatalf("ListByJob() = %d runs, want 3", len(byJob))
	}
	for i, r := range byJob {
		if r.ID != ids[i] {
			t.Errorf("ListByJob()[%d].ID = %d, want %d", i, r.ID, ids[i])
		}
	}
	if none, _ := runs.ListByJob(ctx, "bob", "job-1"); len(none) != 0 {
		t.Errorf("ListByJob(bob) = %v", none)
	}

	runDocuments(t, p.DocumentStorage(), first.ID, second.ID)
}

func runDocuments(t *testing.T, docs persistence.DocumentStorage, testID, otherTestID int64) {
	t.Helper()
	ctx := context.Background()

	notes := &domain.Document{
		TestID:       testID,
		UserID:       "alice",
		FileName:     "a1b2.txt",
		OriginalName: "notes.txt",
		ContentType:  "text/plain",
		SizeBytes:    42,
		Scope:        domain.DocumentScopeTest,
	}
	if err := docs.Save(ctx, notes, []string{"Paris is the capital of France.", "Rome is the capital of Italy."}); err != nil {
		t.Fatalf("Save() document error = %v", err)
	}
	if notes.ID == 0 || notes.Chunks != 2 {
		t.Fatalf("Save() document = %+v", notes)
	}
	atlas := &domain.Document{TestID: testID, UserID: "alice", FileName: "c3d4.pdf", OriginalName: "atlas.pdf", ContentType: "application/pdf", Scope: domain.DocumentScopeTest}
	if err := docs.Save(ctx, atlas, []string{"Madrid is the capital of Spain."}); err != nil {
		t.Fatalf("Save() document error = %v", err)
	}
	elsewhere := &domain.Document{TestID: otherTestID, UserID: "alice", FileName: "e5.txt", OriginalName: "other.txt", ContentType: "text/plain", Scope: domain.DocumentScopeTest}
	if err := docs.Save(ctx, elsewhere, []string{"unrelated"}); err != nil {
		t.Fatalf("Save() document error = %v", err)
	}

	list, err := docs.ListByTest(ctx, "alice", testID)
	if err != nil {
		t.Fatalf("ListByTest() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != notes.ID || list[1].ID != atlas.ID {
		t.Fatalf("ListByTest() = %v", list)
	}
	if list[0].OriginalName != "notes.txt" || list[0].ContentType != "text/plain" || list[0].SizeBytes != 42 || list[0].Chunks != 2 {
		t.Errorf("ListByTest()[0] = %+v", list[0])
	}
	if others, _ := docs.ListByTest(ctx, "bob", testID); len(others) != 0 {
		t.Errorf("ListByTest(bob) = %v", others)
	}

	chunks, err := docs.Chunks(ctx, "alice", testID)
	if err != nil {
		t.Fatalf("Chunks() error = %v", err)
	}
	want := []domain.DocumentChunk{
		{DocumentID: notes.ID, Index: 0, Text: "Paris is the capital of France."},
		{DocumentID: notes.ID, Index: 1, Text: "Rome is the capital of Italy."},
		{DocumentID: atlas.ID, Index: 0, Text: "Madrid is the capital of Spain."},
	}
	if len(chunks) != len(want) {
		t.Fatalf("Chunks() = %v, want %v", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("Chunks()[%d] = %+v, want %+v", i, chunks[i], want[i])
		}
	}
	if none, _ := docs.Chunks(ctx, "bob", testID); len(none) != 0 {
		t.Errorf("Chunks(bob) = %v", none)
	}
}
