package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/starford/mixport/internal/models"
	"github.com/starford/mixport/internal/parser"
)

const (
	dateLayout = "20060102"
	previewLen = 10
)

// FileNamer assigns file names to notes. Untitled notes created on the same
// day are numbered in the order they are named: the first keeps the bare
// date, later ones get _2, _3 and so on. A FileNamer belongs to one run.
type FileNamer struct {
	loc      *time.Location
	counters map[string]int
}

// NewFileNamer creates a FileNamer that buckets dates in loc (UTC if nil).
func NewFileNamer(loc *time.Location) *FileNamer {
	if loc == nil {
		loc = time.UTC
	}
	return &FileNamer{loc: loc, counters: make(map[string]int)}
}

// Name returns the base file name (without extension) for note.
func (n *FileNamer) Name(note models.Note) string {
	date := note.CreateDate.Time().In(n.loc).Format(dateLayout)

	if title := strings.TrimSpace(note.Title); title != "" {
		return Sanitize(date + "_" + title)
	}

	n.counters[date]++
	suffix := ""
	if c := n.counters[date]; c > 1 {
		suffix = "_" + strconv.Itoa(c)
	}
	return Sanitize(date + suffix + "_" + parser.Preview(note.Content, previewLen))
}

// Sanitize removes characters that are not allowed in file names on common
// file systems and trims surrounding whitespace.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
