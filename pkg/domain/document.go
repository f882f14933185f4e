package domain

import "time"

const DocumentScopeTest = "test"

// Document is reference material a user attached to one of their tests.
// Its text is stored as ordered chunks and offered to the LLM solver as context.
type Document struct {
	ID           int64     `json:"id"`
	TestID       int64     `json:"test_id"`
	UserID       string    `json:"user_id"`
	FileName     string    `json:"file_name"`
	OriginalName string    `json:"original_file_name"`
	ContentType  string    `json:"file_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Scope        string    `json:"scope"`
	Chunks       int       `json:"chunks"`
	CreatedAt    time.Time `json:"created_at"`
}

// DocumentChunk is one slice of a document's extracted text.
type DocumentChunk struct {
	DocumentID int64  `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"chunk_text"`
}
