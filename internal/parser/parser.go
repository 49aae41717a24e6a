// Package parser reads the raw markup of a remote note: noise tags, image
// reference lines and the first-line preview.
package parser

import (
	"regexp"
	"strings"
)

// ImageSentinel starts a line that references an embedded image.
const ImageSentinel = "☺ "

var noiseRe = regexp.MustCompile(`<0/><.*?/>`)

// Result holds the output of parsing a note body.
type Result struct {
	Body     string
	Lines    []string
	ImageIDs []string
}

// Parse strips noise from content and collects its image references.
func Parse(content string) *Result {
	body := StripNoise(content)
	lines := strings.Split(body, "\n")
	return &Result{
		Body:     body,
		Lines:    lines,
		ImageIDs: collectImageIDs(lines),
	}
}

// StripNoise removes inline noise tags of the form <0/><.../>.
func StripNoise(content string) string {
	return noiseRe.ReplaceAllString(content, "")
}

// ImageID reports whether line is an image reference and returns its id.
// A sentinel line with a blank id yields ok == false, as does an id that
// cannot be used as a file name; the id itself is still returned.
func ImageID(line string) (string, bool) {
	if !strings.HasPrefix(line, ImageSentinel) {
		return "", false
	}
	id := strings.TrimSpace(line[len(ImageSentinel):])
	if id == "" {
		return "", false
	}
	return id, usableID(id)
}

func usableID(id string) bool {
	if id == "." || id == ".." {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return r == '/' || r == '\\' || r < 0x20 || r == 0x7f
	})
}

// IsImageLine reports whether line starts with the image sentinel,
// whether or not it carries an id.
func IsImageLine(line string) bool {
	return strings.HasPrefix(line, ImageSentinel)
}

// ImageIDs returns the distinct image ids in content, in order of first
// appearance.
func ImageIDs(content string) []string {
	return collectImageIDs(strings.Split(StripNoise(content), "\n"))
}

func collectImageIDs(lines []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range lines {
		id, ok := ImageID(line)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Preview returns the first line of content truncated to n runes.
func Preview(content string, n int) string {
	first, _, _ := strings.Cut(content, "\n")
	first = strings.TrimSuffix(first, "\r")
	r := []rune(first)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
