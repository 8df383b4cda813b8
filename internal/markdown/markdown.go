// Package markdown writes refined documents to disk with YAML frontmatter.
package markdown

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// Document is everything that ends up in one output file.
type Document struct {
	Title       string
	URL         string
	Author      string
	PublishedAt time.Time
	Description string
	Provenance  string   // "captioned" or "audio_fallback".
	Providers   []string // Per-chunk provider names.
	Body        string
	Partial     bool // Refinement aborted partway; marked in the file.
}

// Writer persists documents under a single output directory.
type Writer struct {
	Dir string
	// Suffix is appended to the filename before the extension, used when
	// reprocessing a video with a different model so runs don't clobber
	// each other.
	Suffix string
}

func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Write renders the document and writes it to <dir>/YYYY-MM-DD-<title>.md.
// Returns the path written.
func (w *Writer) Write(doc Document) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	path := filepath.Join(w.Dir, w.Filename(doc))
	if err := os.WriteFile(path, []byte(Render(doc)), 0o644); err != nil {
		return "", fmt.Errorf("writing document: %w", err)
	}

	return path, nil
}

// Filename builds the sanitized YYYY-MM-DD-<title>.md name.
func (w *Writer) Filename(doc Document) string {
	name := doc.PublishedAt.Format("2006-01-02") + "-" + SanitizeTitle(doc.Title)
	if w.Suffix != "" {
		name += "-" + SanitizeTitle(w.Suffix)
	}
	return name + ".md"
}

// Render produces the file contents: frontmatter, optional partial marker,
// then the body.
func Render(doc Document) string {
	var b strings.Builder

	b.WriteString("---\n")
	writeField(&b, "title", doc.Title)
	writeField(&b, "url", doc.URL)
	writeField(&b, "author", doc.Author)
	if !doc.PublishedAt.IsZero() {
		writeField(&b, "date", doc.PublishedAt.Format("2006-01-02"))
	}
	writeField(&b, "description", doc.Description)
	writeField(&b, "provenance", doc.Provenance)
	if len(doc.Providers) > 0 {
		b.WriteString("providers:\n")
		for _, p := range doc.Providers {
			b.WriteString("  - " + quote(p) + "\n")
		}
	}
	b.WriteString("---\n\n")

	if doc.Partial {
		b.WriteString("> **Note:** refinement was interrupted; this document is incomplete.\n\n")
	}

	b.WriteString(doc.Body)
	b.WriteString("\n")

	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(key + ": " + quote(value) + "\n")
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// SanitizeTitle turns an arbitrary video title into a safe filename part:
// lowercase, alphanumerics kept, everything else collapsed into single
// hyphens, capped in length.
func SanitizeTitle(title string) string {
	const maxLen = 80

	var b strings.Builder
	lastHyphen := true // Swallow leading separators.

	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
		if b.Len() >= maxLen {
			break
		}
	}

	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "untitled"
	}
	return out
}
