package documents

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/osvaldoandrade/formq/pkg/domain"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty", "   ", 10, 0, nil},
		{"fits", "short text", 100, 10, []string{"short text"}},
		{"words with overlap", "aaa bbb ccc ddd", 7, 3, []string{"aaa bbb", "bbb ccc", "ccc ddd"}},
		{"paragraphs", "first para\n\nsecond para", 12, 0, []string{"first para", "second para"}},
		{"no separators", "abcdefghij", 4, 0, []string{"abcd", "efgh", "ij"}},
		{"overlap not below size", "aaa bbb", 3, 3, []string{"aaa", "bbb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.size, tt.overlap)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitChunksStayWithinSize(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog.\n", 200)
	chunks := Split(text, DefaultChunkSize, DefaultChunkOverlap)
	if len(chunks) < 2 {
		t.Fatalf("Split() = %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > DefaultChunkSize {
			t.Errorf("chunk %d has %d runes", i, n)
		}
	}
}

func TestRank(t *testing.T) {
	chunks := []domain.DocumentChunk{
		{DocumentID: 1, Index: 0, Text: "Rome is the capital of Italy."},
		{DocumentID: 1, Index: 1, Text: "Paris is the capital of France and sits on the Seine."},
		{DocumentID: 2, Index: 0, Text: "Bananas are yellow."},
		{DocumentID: 2, Index: 1, Text: "France borders Spain."},
	}

	got := Rank(chunks, "What is the capital of France?", 5)
	want := []string{
		"Paris is the capital of France and sits on the Seine.",
		"Rome is the capital of Italy.",
		"France borders Spain.",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rank() = %q, want %q", got, want)
	}

	if top := Rank(chunks, "capital of France", 1); len(top) != 1 || top[0] != want[0] {
		t.Errorf("Rank(topK=1) = %q", top)
	}
	if none := Rank(chunks, "the of is", 5); len(none) != 0 {
		t.Errorf("Rank() with only stop words = %q", none)
	}
}

type staticChunks struct {
	chunks []domain.DocumentChunk
	err    error
	gotUID string
	gotID  int64
}

func (s *staticChunks) Chunks(ctx context.Context, userID string, testID int64) ([]domain.DocumentChunk, error) {
	s.gotUID, s.gotID = userID, testID
	return s.chunks, s.err
}

func TestRetriever(t *testing.T) {
	src := &staticChunks{chunks: []domain.DocumentChunk{{Text: "Paris is the capital of France."}}}
	got, err := NewRetriever(src, 0).Retrieve(context.Background(), "u1", 7, "Capital of France?")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 || src.gotUID != "u1" || src.gotID != 7 {
		t.Errorf("Retrieve() = %q (user %q, test %d)", got, src.gotUID, src.gotID)
	}

	failing := &staticChunks{err: errors.New("boom")}
	if _, err := NewRetriever(failing, 3).Retrieve(context.Background(), "u1", 7, "x"); err == nil {
		t.Error("Retrieve() should surface storage errors")
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
		wantErr  bool
	}{
		{"text", "text/plain", []byte("Paris is the capital of France."), TypeText, false},
		{"text with charset", "text/plain; charset=utf-8", []byte("hello"), TypeText, false},
		{"pdf", "application/pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), TypePDF, false},
		{"unsupported declared", "image/png", []byte("\x89PNG\r\n\x1a\n"), "", true},
		{"pdf declared but png bytes", "application/pdf", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "", true},
		{"text declared but pdf bytes", "text/plain", []byte("%PDF-1.4\n"), "", true},
		{"missing", "", []byte("hello"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectType(tt.declared, tt.data)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("DetectType() err = %v, want validation error", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("DetectType() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	got, err := ExtractText(TypeText, []byte("line one\nline two"))
	if err != nil || got != "line one\nline two" {
		t.Errorf("ExtractText(text) = %q, %v", got, err)
	}
	if _, err := ExtractText(TypeText, []byte{0xff, 0xfe, 0xfd}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ExtractText(invalid utf8) err = %v", err)
	}
	if _, err := ExtractText(TypePDF, []byte("%PDF-1.4\nnot really a pdf")); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ExtractText(broken pdf) err = %v", err)
	}
	if _, err := ExtractText("image/png", nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ExtractText(png) err = %v", err)
	}
}
