package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type recorder struct {
	mu     sync.Mutex
	method []string
	paths  []string
	bodies map[string][]byte
}

func newRecorder(t *testing.T, status func(r *http.Request) int) (*recorder, *httptest.Server) {
	t.Helper()
	rec := &recorder{bodies: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.method = append(rec.method, r.Method)
		rec.paths = append(rec.paths, r.URL.Path)
		if r.Method == http.MethodPut {
			rec.bodies[r.URL.Path] = body
		}
		rec.mu.Unlock()
		w.WriteHeader(status(r))
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func TestS3_Save(t *testing.T) {
	rec, srv := newRecorder(t, func(*http.Request) int { return http.StatusOK })

	sink, err := NewS3(context.Background(), S3Config{
		Bucket:          "exports",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Prefix:          "/mixport/",
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}

	data := []byte("PK archive body")
	loc, err := sink.Save(context.Background(), "run.zip", data)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if loc != "s3://exports/mixport/run.zip" {
		t.Errorf("location = %q", loc)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	body, ok := rec.bodies["/exports/mixport/run.zip"]
	if !ok {
		t.Fatalf("no PUT recorded, paths = %v", rec.paths)
	}
	if !bytes.Contains(body, data) {
		t.Errorf("body = %q", body)
	}
}

func TestS3_SaveError(t *testing.T) {
	_, srv := newRecorder(t, func(*http.Request) int { return http.StatusForbidden })
	sink, err := NewS3(context.Background(), S3Config{
		Bucket: "exports", Region: "us-east-1", Endpoint: srv.URL,
		AccessKeyID: "key", SecretAccessKey: "secret", PathStyle: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Save(context.Background(), "run.zip", []byte("x")); err == nil {
		t.Error("expected error for 403")
	}
}

func TestWebDAV_Save(t *testing.T) {
	rec, srv := newRecorder(t, func(r *http.Request) int {
		switch r.Method {
		case "MKCOL", http.MethodPut:
			return http.StatusCreated
		default:
			return http.StatusMethodNotAllowed
		}
	})

	sink := NewWebDAV(WebDAVConfig{Endpoint: srv.URL, User: "u", Password: "p", Path: "backups/notes"})
	loc, err := sink.Save(context.Background(), "run.zip", []byte("zip"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(loc, "/backups/notes/run.zip") {
		t.Errorf("location = %q", loc)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if got := string(rec.bodies["/backups/notes/run.zip"]); got != "zip" {
		t.Errorf("uploaded = %q (paths %v)", got, rec.paths)
	}
}

func TestNew_SelectsSink(t *testing.T) {
	dir := t.TempDir()
	s, err := New(context.Background(), Config{Type: TypeLocal, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*FS); !ok {
		t.Errorf("sink = %T, want *FS", s)
	}
	if _, err := New(context.Background(), Config{Type: "ftp"}); err == nil {
		t.Error("expected error for unknown type")
	}
}
