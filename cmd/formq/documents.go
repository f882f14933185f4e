package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

func documentCmds(baseURL, token *string, ui *ui) []*cobra.Command {
	upload := &cobra.Command{
		Use:     "upload <test-id> <file>",
		Short:   "Attach a TXT or PDF document used as context for llm answers",
		Example: "formq test upload 12 ./syllabus.pdf",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			var doc domain.Document
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Uploading document..."
			spin.Start()
			err = c.upload(fmt.Sprintf("/v1/formq/tests/%d/documents", id), filepath.Base(args[1]), documentContentType(args[1], data), data, &doc)
			spin.Stop()
			if err != nil {
				return err
			}
			fmt.Printf("%s Document %d attached to test %d %s\n", ui.ok("[OK]"), doc.ID, id,
				ui.dim(fmt.Sprintf("(%d chunks)", doc.Chunks)))
			return nil
		},
	}

	docs := &cobra.Command{
		Use:   "docs <test-id>",
		Short: "List the documents attached to a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			var out struct {
				Documents []domain.Document `json:"documents"`
			}
			if err := c.do("GET", fmt.Sprintf("/v1/formq/tests/%d/documents", id), nil, &out); err != nil {
				return err
			}
			if len(out.Documents) == 0 {
				fmt.Println(ui.dim("no documents"))
				return nil
			}
			for _, d := range out.Documents {
				fmt.Printf("%s %-6d %s %s\n", ui.info("•"), d.ID, d.OriginalName,
					ui.dim(fmt.Sprintf("(%s, %d bytes, %d chunks)", d.ContentType, d.SizeBytes, d.Chunks)))
			}
			return nil
		},
	}
	return []*cobra.Command{upload, docs}
}

// documentContentType trusts a .pdf or .txt extension and sniffs anything else.
func documentContentType(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".text", ".md":
		return "text/plain"
	}
	m := mimetype.Detect(data)
	for p := m; p != nil; p = p.Parent() {
		if p.Is("text/plain") {
			return "text/plain"
		}
	}
	if i := strings.IndexByte(m.String(), ';'); i >= 0 {
		return m.String()[:i]
	}
	return m.String()
}

// upload posts data as the multipart "file" field.
func (c *client) upload(path, fileName, contentType string, data []byte, out any) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
