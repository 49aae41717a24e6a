// Package testutil provides shared test helpers: a fake remote note service,
// a throwaway run history and an archive store.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/starford/mixport/internal/history"
	"github.com/starford/mixport/internal/storage"
)

// TestDB creates a temporary run history database that is automatically cleaned up.
func TestDB(t *testing.T) *history.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mixport-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := history.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary archive directory backed by storage.FS.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// QuietLogger only reports errors.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Seed fills r with one folder, two notes and one image. Note "n1" embeds the
// image "img1"; note "n2" is untitled and sits in the default folder.
func Seed(t *testing.T, r *Remote) {
	t.Helper()
	r.Pages[""] = RemotePage{
		Folders: []RemoteFolder{{ID: 1, Subject: "Work"}},
		Entries: []string{"n1", "n2"},
		SyncTag: "next",
	}
	r.Notes["n1"] = RemoteNote{
		ID:         "n1",
		FolderID:   1,
		Title:      "Plan",
		Content:    "step one\n☺ img1<0/><0/>",
		CreateDate: 1709625600000,
		ModifyDate: 1709625600000,
	}
	r.Notes["n2"] = RemoteNote{
		ID:         "n2",
		Content:    "milk and eggs",
		CreateDate: 1709625600000,
		ModifyDate: 1709625600000,
	}
	r.Images["img1"] = PNG(t)
}
