// Package textproc turns uploaded files and crawled pages into plain text
// and measures chunk token length.
package textproc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"slices"
	"strings"

	"code.sajari.com/docconv"
	"github.com/cloo-solutions/outreach/internal/domain"
)

// MaxFileBytes bounds how much of an uploaded file is read for extraction.
const MaxFileBytes = 25 << 20

var plainTypes = map[string]bool{
	"text/plain":    true,
	"text/markdown": true,
	"text/csv":      true,
}

var documentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.text",
	"application/rtf",
	"text/rtf",
	"application/xml",
	"text/xml",
}

// Extractor converts uploaded files to text with docconv.
type Extractor struct{}

// NewExtractor creates a new Extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads r and returns its text. The content type wins over the file
// name extension unless it is missing or generic.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, contentType, name string) (string, error) {
	mimeType := resolveMimeType(contentType, name)

	data, err := io.ReadAll(io.LimitReader(r, MaxFileBytes+1))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if len(data) > MaxFileBytes {
		return "", domain.Validation("file %s exceeds %d bytes", name, MaxFileBytes)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch {
	case plainTypes[mimeType]:
		return normalizeSpace(string(data)), nil
	case mimeType == "text/html":
		text, _, err := docconv.ConvertHTML(bytes.NewReader(data), false)
		if err != nil {
			return "", fmt.Errorf("convert html: %w", err)
		}
		return normalizeSpace(text), nil
	case slices.Contains(documentTypes, mimeType):
		res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
		if err != nil {
			return "", fmt.Errorf("convert %s: %w", mimeType, err)
		}
		return normalizeSpace(res.Body), nil
	}
	return "", domain.Validation("unsupported file type %q for %s", mimeType, name)
}

func resolveMimeType(contentType, name string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".txt"):
		return "text/plain"
	case strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".markdown"):
		return "text/markdown"
	case strings.HasSuffix(lower, ".csv"):
		return "text/csv"
	}
	return docconv.MimeTypeByExtension(name)
}

// normalizeSpace collapses runs of blank lines and trims trailing spaces.
func normalizeSpace(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
