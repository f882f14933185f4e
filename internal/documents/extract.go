// Package documents turns uploaded reference files into text chunks and
// picks the chunks most relevant to a batch of questions.
package documents

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/osvaldoandrade/formq/pkg/domain"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	TypeText = "text/plain"
	TypePDF  = "application/pdf"

	// MaxSize is the largest accepted upload in bytes.
	MaxSize = 5 << 20
)

// DetectType checks the declared content type against the file's bytes and
// returns the normalized type. Only plain text and PDF are accepted.
func DetectType(declared string, data []byte) (string, error) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(declared))
	if err != nil || (mediaType != TypeText && mediaType != TypePDF) {
		return "", fmt.Errorf("%w: unsupported file type %q, only TXT and PDF are allowed", domain.ErrValidation, declared)
	}
	sniffed := mimetype.Detect(data)
	switch mediaType {
	case TypePDF:
		if !sniffed.Is(TypePDF) {
			return "", fmt.Errorf("%w: file is declared as PDF but looks like %s", domain.ErrValidation, sniffed.String())
		}
	case TypeText:
		if !isText(sniffed) {
			return "", fmt.Errorf("%w: file is declared as text but looks like %s", domain.ErrValidation, sniffed.String())
		}
	}
	return mediaType, nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(TypeText) {
			return true
		}
	}
	return false
}

// ExtractText returns the plain text of a document of the given type.
func ExtractText(contentType string, data []byte) (string, error) {
	switch contentType {
	case TypeText:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text file is not valid UTF-8", domain.ErrValidation)
		}
		return string(data), nil
	case TypePDF:
		return pdfText(data)
	}
	return "", fmt.Errorf("%w: unsupported file type %q", domain.ErrValidation, contentType)
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: read pdf: %v", domain.ErrValidation, err)
	}
	fonts := make(map[string]*pdf.Font)
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("%w: read pdf page %d: %v", domain.ErrValidation, i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}
