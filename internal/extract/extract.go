// Package extract pulls text out of message attachments for prompt context.
package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxExtractedBytes caps how much of a single attachment reaches the prompt.
const maxExtractedBytes = 64 * 1024

// codeExtensions are treated as plain text regardless of reported MIME type.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".rb": true,
	".rs": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".sh": true, ".sql": true, ".html": true, ".css": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".xml": true, ".csv": true, ".md": true, ".txt": true, ".log": true,
	".env": true, ".conf": true, ".cfg": true, ".dockerfile": true,
}

// Supported reports whether Extract can produce text for the attachment.
// Images are not supported; the pipeline acknowledges them without content.
func Supported(filename, mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") || mimeType == "application/pdf" ||
		mimeType == "application/json" {
		return true
	}
	return codeExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Extract converts an attachment to plain text, dispatching on MIME type and
// file extension. Returns an error for unsupported or unreadable content.
func Extract(filename, mimeType string, data []byte) (string, error) {
	switch {
	case mimeType == "application/pdf":
		return extractPDF(data)
	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/json",
		codeExtensions[strings.ToLower(filepath.Ext(filename))]:
		return clip(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported attachment type %q (%s)", mimeType, filename)
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
		if b.Len() > maxExtractedBytes {
			break
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return clip(out), nil
}

func clip(s string) string {
	if len(s) <= maxExtractedBytes {
		return s
	}
	return s[:maxExtractedBytes] + "\n[truncated]"
}
