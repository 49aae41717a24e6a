// Package archive assembles exported Markdown documents and their images into
// a zip file.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/mixport/internal/checksum"
	"github.com/starford/mixport/internal/models"
	"github.com/starford/mixport/internal/transform"
)

// ErrSerialized is returned when the builder is used after Serialize.
var ErrSerialized = errors.New("archive: already serialized")

// zip timestamps cannot predate 1980.
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Entry describes one file in the archive.
type Entry struct {
	Path     string `json:"path"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum"`
}

type file struct {
	data     []byte
	modified time.Time
}

// Builder collects documents in memory and writes them as one zip.
//
// Layout: <root>/<folder>/<name>.md and <root>/<folder>/images/<id>.png.
// Images are shared per folder, so two notes in the same folder that embed the
// same image id end up with one file; the last one added wins.
type Builder struct {
	root          string
	defaultFolder string
	logger        *slog.Logger

	files      map[string]*file
	docs       int
	serialized bool
}

// NewBuilder creates a Builder. Empty root or defaultFolder fall back to
// "notes" and "Default".
func NewBuilder(root, defaultFolder string, logger *slog.Logger) *Builder {
	if root = transform.Sanitize(root); root == "" {
		root = "notes"
	}
	if defaultFolder = transform.Sanitize(defaultFolder); !validDir(defaultFolder) {
		defaultFolder = "Default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		root:          root,
		defaultFolder: defaultFolder,
		logger:        logger,
		files:         make(map[string]*file),
	}
}

// Add places doc under folder and returns the archive path of its Markdown
// file. A Markdown path that is already taken gets a numeric suffix.
func (b *Builder) Add(folder string, doc models.MarkdownDocument) (string, error) {
	if b.serialized {
		return "", ErrSerialized
	}

	dir := path.Join(b.root, b.folderDir(folder))
	mod := doc.Modified
	if mod.Before(epoch) {
		mod = epoch
	}

	mdPath := path.Join(dir, doc.FileName+".md")
	for n := 2; b.files[mdPath] != nil; n++ {
		mdPath = path.Join(dir, doc.FileName+"_"+strconv.Itoa(n)+".md")
	}
	if want := path.Join(dir, doc.FileName+".md"); mdPath != want {
		b.logger.Warn("archive: file name taken, using suffix",
			slog.String("wanted", want),
			slog.String("path", mdPath),
		)
	}
	b.files[mdPath] = &file{data: []byte(doc.Content), modified: mod}

	for _, img := range doc.Images {
		if strings.ContainsAny(img.Name, `/\`) || !validDir(img.Name) {
			b.logger.Warn("archive: skipping image with unsafe name", slog.String("name", img.Name))
			continue
		}
		p := path.Join(dir, "images", img.Name)
		if prev := b.files[p]; prev != nil && !bytes.Equal(prev.data, img.Data) {
			b.logger.Debug("archive: image replaced", slog.String("path", p))
		}
		b.files[p] = &file{data: img.Data, modified: mod}
	}

	b.docs++
	return mdPath, nil
}

// Docs returns the number of documents added.
func (b *Builder) Docs() int { return b.docs }

// Serialize writes the archive. Entries are sorted by path and carry fixed
// timestamps, so equal input gives byte-identical output. It may be called
// once.
func (b *Builder) Serialize() ([]byte, error) {
	if b.serialized {
		return nil, ErrSerialized
	}
	b.serialized = true

	paths := b.sortedPaths()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	written := make(map[string]bool)
	for _, p := range paths {
		for _, d := range parents(p) {
			if written[d] {
				continue
			}
			written[d] = true
			hdr := &zip.FileHeader{Name: d + "/", Method: zip.Store, Modified: epoch}
			hdr.SetMode(fs.ModeDir | 0o755)
			if _, err := zw.CreateHeader(hdr); err != nil {
				return nil, fmt.Errorf("archive: dir %s: %w", d, err)
			}
		}

		f := b.files[p]
		hdr := &zip.FileHeader{Name: p, Method: zip.Deflate, Modified: f.modified.UTC()}
		hdr.SetMode(0o644)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("archive: create %s: %w", p, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("archive: write %s: %w", p, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Manifest lists the files in the archive, sorted by path.
func (b *Builder) Manifest() []Entry {
	paths := b.sortedPaths()
	out := make([]Entry, 0, len(paths))
	for _, p := range paths {
		f := b.files[p]
		out = append(out, Entry{Path: p, Size: len(f.data), Checksum: checksum.Sum(f.data)})
	}
	return out
}

func (b *Builder) sortedPaths() []string {
	paths := make([]string, 0, len(b.files))
	for p := range b.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (b *Builder) folderDir(name string) string {
	name = transform.Sanitize(name)
	if !validDir(name) {
		return b.defaultFolder
	}
	return name
}

func validDir(name string) bool {
	return name != "" && name != "." && name != ".."
}

// parents returns the directories above p, outermost first.
func parents(p string) []string {
	var out []string
	for d := path.Dir(p); d != "." && d != "/"; d = path.Dir(d) {
		out = append([]string{d}, out...)
	}
	return out
}
