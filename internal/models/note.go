// Package models defines the domain types for mixport.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is an opaque identifier from the remote service. The API returns some
// ids as JSON numbers (folder "0") and others as strings; both decode to text.
type ID string

// UnmarshalJSON accepts a JSON string, number, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("models: decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("models: decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the id text.
func (id ID) String() string { return string(id) }

// Millis is a timestamp carried on the wire as epoch milliseconds.
type Millis int64

// Time converts the timestamp to a time.Time in UTC.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// UnmarshalJSON accepts a number or a numeric string.
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("models: decode timestamp: %w", err)
	}
	*m = Millis(int64(v))
	return nil
}

// Folder is a read-only snapshot of a remote folder.
type Folder struct {
	ID   ID     `json:"id"`
	Name string `json:"subject"`
}

// NoteSummary is the minimal entry returned by a listing page.
type NoteSummary struct {
	ID ID `json:"id"`
}

// Note is the full note record returned by the detail endpoint.
// An empty FolderID or Title means the field was absent.
type Note struct {
	ID         ID     `json:"id"`
	FolderID   ID     `json:"folderId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	CreateDate Millis `json:"createDate"`
	ModifyDate Millis `json:"modifyDate"`
}

// ImageRef is a resolved image, normalized to PNG.
type ImageRef struct {
	ID   string
	Data []byte
}

// Page is one listing response.
type Page struct {
	Folders    []Folder
	Entries    []NoteSummary
	NextCursor string
	Count      int
}

// NamedImage is an image asset placed next to a Markdown document.
type NamedImage struct {
	Name string
	Data []byte
}

// MarkdownDocument is the transformed form of a note.
type MarkdownDocument struct {
	FileName string
	Content  string
	Images   []NamedImage
	Modified time.Time
}

// ExportStats are the aggregate counters of a run.
type ExportStats struct {
	Folders int `json:"folders"`
	Notes   int `json:"notes"`
	Images  int `json:"images"`
}
