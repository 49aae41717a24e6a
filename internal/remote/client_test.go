package remote

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/starford/mixport/internal/models"
	"github.com/starford/mixport/internal/retry"
	"github.com/starford/mixport/internal/session"
	"github.com/starford/mixport/internal/testutil"
)

func newTestClient(t *testing.T, rm *testutil.Remote) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:   rm.URL(),
		Session:   session.Static("serviceToken=abc"),
		UserAgent: "mixport-test",
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	if _, err := NewClient(Options{BaseURL: "/note"}); err == nil {
		t.Error("expected error for relative base url")
	}
}

func TestListPage(t *testing.T) {
	rm := testutil.NewRemote(t)
	rm.Pages[""] = testutil.RemotePage{
		Folders: []testutil.RemoteFolder{{ID: 7, Subject: "Work"}, {ID: "8", Subject: "Home"}},
		Entries: []string{"n1", "n2"},
		SyncTag: "tag-1",
	}
	c := newTestClient(t, rm)

	page, err := c.ListPage(context.Background(), "")
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.NextCursor != "tag-1" {
		t.Errorf("cursor = %q, want tag-1", page.NextCursor)
	}
	if page.Count != 2 || len(page.Entries) != 2 || page.Entries[1].ID != "n2" {
		t.Errorf("entries = %+v", page.Entries)
	}
	if len(page.Folders) != 2 {
		t.Fatalf("folders = %+v", page.Folders)
	}
	if page.Folders[0].ID != "7" || page.Folders[0].Name != "Work" {
		t.Errorf("folder[0] = %+v", page.Folders[0])
	}
	if page.Folders[1].ID != "8" {
		t.Errorf("folder[1] id = %q", page.Folders[1].ID)
	}
	if got := rm.Cookies[0]; got != "serviceToken=abc" {
		t.Errorf("cookie header = %q", got)
	}
}

func TestListPage_SendsCursor(t *testing.T) {
	rm := testutil.NewRemote(t)
	rm.Pages["tag-1"] = testutil.RemotePage{Entries: []string{"n3"}, SyncTag: "tag-2"}
	c := newTestClient(t, rm)

	page, err := c.ListPage(context.Background(), "tag-1")
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.NextCursor != "tag-2" || page.Count != 1 {
		t.Errorf("page = %+v", page)
	}
	calls := rm.ListCalls()
	if len(calls) != 1 || calls[0] != "tag-1" {
		t.Errorf("list calls = %v", calls)
	}
}

func TestGetNote(t *testing.T) {
	rm := testutil.NewRemote(t)
	rm.Notes["n1"] = testutil.RemoteNote{
		ID:         "n1",
		FolderID:   7,
		Title:      "Hello",
		Content:    "body",
		CreateDate: 1700000000000,
		ModifyDate: 1700000360000,
	}
	c := newTestClient(t, rm)

	note, err := c.GetNote(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if note.FolderID != "7" || note.Title != "Hello" || note.Content != "body" {
		t.Errorf("note = %+v", note)
	}
	want := time.UnixMilli(1700000360000).UTC()
	if !note.ModifyDate.Time().Equal(want) {
		t.Errorf("modify = %v, want %v", note.ModifyDate.Time(), want)
	}
}

func TestGetNote_StatusError(t *testing.T) {
	rm := testutil.NewRemote(t)
	rm.FailNotes["bad"] = true
	c := newTestClient(t, rm)

	_, err := c.GetNote(context.Background(), "bad")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusInternalServerError {
		t.Errorf("code = %d", se.Code)
	}
}

func TestFetchImage(t *testing.T) {
	rm := testutil.NewRemote(t)
	img := testutil.PNG(t)
	rm.Images["img1"] = img
	c := newTestClient(t, rm)

	got, err := c.FetchImage(context.Background(), "img1")
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if !bytes.Equal(got, img) {
		t.Error("image bytes differ")
	}

	if _, err := c.FetchImage(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing image")
	}
}

func TestCrawler_FollowsCursor(t *testing.T) {
	rm := testutil.NewRemote(t)
	rm.Pages[""] = testutil.RemotePage{
		Folders: []testutil.RemoteFolder{{ID: "f1", Subject: "A"}},
		Entries: []string{"n1", "n2"},
		SyncTag: "t1",
	}
	rm.Pages["t1"] = testutil.RemotePage{Entries: []string{"n3"}, SyncTag: "t2"}
	rm.Pages["t2"] = testutil.RemotePage{SyncTag: "t2"}

	cr := NewCrawler(newTestClient(t, rm), retry.Policy{MaxAttempts: 2, Delay: time.Millisecond})
	ctx := context.Background()

	var ids []models.ID
	cursor := ""
	for {
		page, err := cr.NextPage(ctx, cursor)
		if err != nil {
			t.Fatalf("NextPage: %v", err)
		}
		if page.Count == 0 {
			break
		}
		for _, e := range page.Entries {
			ids = append(ids, e.ID)
		}
		cursor = page.NextCursor
	}

	if len(ids) != 3 || ids[2] != "n3" {
		t.Errorf("ids = %v", ids)
	}
	if calls := rm.ListCalls(); len(calls) != 3 {
		t.Errorf("list calls = %v", calls)
	}
}

func TestCrawler_NoteExhausted(t *testing.T) {
	rm := testutil.NewRemote(t)
	rm.FailNotes["n1"] = true

	cr := NewCrawler(newTestClient(t, rm), retry.Policy{MaxAttempts: 3, Delay: time.Millisecond})
	_, err := cr.Note(context.Background(), "n1")

	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ex.Attempts != 3 {
		t.Errorf("attempts = %d", ex.Attempts)
	}
	if rm.NoteRequests["n1"] != 3 {
		t.Errorf("requests = %d, want 3", rm.NoteRequests["n1"])
	}
}
