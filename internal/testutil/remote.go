package testutil

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// RemoteFolder is a folder as served by the fake remote.
type RemoteFolder struct {
	ID      any    `json:"id"`
	Subject string `json:"subject"`
}

// RemoteNote is a note as served by the fake remote.
type RemoteNote struct {
	ID         string `json:"id"`
	FolderID   any    `json:"folderId,omitempty"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content"`
	CreateDate int64  `json:"createDate"`
	ModifyDate int64  `json:"modifyDate"`
}

// RemotePage is one listing response. Entries are note ids.
type RemotePage struct {
	Folders []RemoteFolder
	Entries []string
	SyncTag string
}

// Remote is an in-memory stand-in for the note service API.
type Remote struct {
	Server *httptest.Server

	mu sync.Mutex
	// Pages maps a cursor ("" for the first page) to its response.
	Pages map[string]RemotePage
	Notes map[string]RemoteNote
	// Images maps image id to raw bytes served by /file/full.
	Images map[string][]byte
	// FailNotes lists note ids whose detail request always returns 500.
	FailNotes map[string]bool
	// FailImages lists image ids whose request always returns 404.
	FailImages map[string]bool
	// FlakyImages fails the first N requests for an image id.
	FlakyImages map[string]int

	ListCursors  []string
	NoteRequests map[string]int
	ImageHits    map[string]int
	Cookies      []string
}

// NewRemote starts a fake remote service that is closed with the test.
func NewRemote(t *testing.T) *Remote {
	t.Helper()
	r := &Remote{
		Pages:        map[string]RemotePage{},
		Notes:        map[string]RemoteNote{},
		Images:       map[string][]byte{},
		FailNotes:    map[string]bool{},
		FailImages:   map[string]bool{},
		FlakyImages:  map[string]int{},
		NoteRequests: map[string]int{},
		ImageHits:    map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/note/full/page/", r.handleList)
	mux.HandleFunc("/note/note/", r.handleNote)
	mux.HandleFunc("/file/full", r.handleImage)
	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Server.Close)
	return r
}

// URL returns the base URL of the fake remote.
func (r *Remote) URL() string { return r.Server.URL }

// ListCalls returns the cursors of every listing request in order.
func (r *Remote) ListCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ListCursors...)
}

// ImageCalls returns how many times an image id was requested.
func (r *Remote) ImageCalls(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ImageHits[id]
}

func (r *Remote) handleList(w http.ResponseWriter, req *http.Request) {
	cursor := req.URL.Query().Get("syncTag")

	r.mu.Lock()
	r.ListCursors = append(r.ListCursors, cursor)
	r.Cookies = append(r.Cookies, req.Header.Get("Cookie"))
	page, ok := r.Pages[cursor]
	r.mu.Unlock()

	if req.URL.Query().Get("ts") == "" {
		http.Error(w, "missing ts", http.StatusBadRequest)
		return
	}
	if !ok {
		page = RemotePage{SyncTag: cursor}
	}

	entries := make([]map[string]string, 0, len(page.Entries))
	for _, id := range page.Entries {
		entries = append(entries, map[string]string{"id": id})
	}
	folders := page.Folders
	if folders == nil {
		folders = []RemoteFolder{}
	}
	writeJSON(w, map[string]any{
		"data": map[string]any{
			"folders": folders,
			"entries": entries,
			"syncTag": page.SyncTag,
		},
	})
}

func (r *Remote) handleNote(w http.ResponseWriter, req *http.Request) {
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/note/note/"), "/")

	r.mu.Lock()
	r.NoteRequests[id]++
	fail := r.FailNotes[id]
	note, ok := r.Notes[id]
	r.mu.Unlock()

	if fail {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, map[string]any{"data": map[string]any{"entry": note}})
}

func (r *Remote) handleImage(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("fileid")

	r.mu.Lock()
	r.ImageHits[id]++
	fail := r.FailImages[id]
	flaky := r.FlakyImages[id]
	if flaky > 0 {
		r.FlakyImages[id] = flaky - 1
	}
	data, ok := r.Images[id]
	r.mu.Unlock()

	if fail || flaky > 0 || !ok {
		http.NotFound(w, req)
		return
	}
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// PNG returns a small solid-colour PNG image.
func PNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(4, 3)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// JPEG returns a small solid-colour JPEG image.
func JPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(5, 2), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	return img
}
