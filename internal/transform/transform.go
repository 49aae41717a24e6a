// Package transform turns remote notes into Markdown documents.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/mixport/internal/models"
	"github.com/starford/mixport/internal/parser"
)

const footerLayout = "2006-01-02 15:04:05"

// Transformer renders notes as Markdown.
type Transformer struct {
	Location      *time.Location
	CreatedLabel  string
	ModifiedLabel string
}

// New returns a Transformer with English footer labels.
func New(loc *time.Location) *Transformer {
	return &Transformer{Location: loc, CreatedLabel: "Created", ModifiedLabel: "Modified"}
}

// ImageLink is the Markdown for an image stored next to the document.
func ImageLink(id string) string {
	name := id + ".png"
	return fmt.Sprintf("![%s](images/%s)", name, name)
}

// MissingImage is the Markdown placeholder for an image that could not be
// fetched.
func MissingImage(id string) string {
	return fmt.Sprintf("![image not found: %s]()", id)
}

// Transform renders note using the resolved images table and names it with
// names. Image reference lines become links when the image is present and
// placeholders otherwise.
func (t *Transformer) Transform(note models.Note, images map[string][]byte, names *FileNamer) models.MarkdownDocument {
	parsed := parser.Parse(note.Content)

	var assets []models.NamedImage
	seen := make(map[string]struct{})

	lines := make([]string, len(parsed.Lines))
	for i, line := range parsed.Lines {
		if !parser.IsImageLine(line) {
			lines[i] = line
			continue
		}
		id, usable := parser.ImageID(line)
		data, ok := images[id]
		if !usable || !ok {
			lines[i] = MissingImage(id)
			continue
		}
		lines[i] = ImageLink(id)
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			assets = append(assets, models.NamedImage{Name: id + ".png", Data: data})
		}
	}

	var b strings.Builder
	if title := strings.TrimSpace(note.Title); title != "" {
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "%s: %s\n", t.label(t.CreatedLabel, "Created"), t.format(note.CreateDate))
	fmt.Fprintf(&b, "%s: %s", t.label(t.ModifiedLabel, "Modified"), t.format(note.ModifyDate))

	return models.MarkdownDocument{
		FileName: names.Name(note),
		Content:  b.String(),
		Images:   assets,
		Modified: note.ModifyDate.Time(),
	}
}

func (t *Transformer) format(m models.Millis) string {
	loc := t.Location
	if loc == nil {
		loc = time.UTC
	}
	return m.Time().In(loc).Format(footerLayout)
}

func (t *Transformer) label(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
