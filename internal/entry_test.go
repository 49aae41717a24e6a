package internal

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/mixport/internal/history"
	"github.com/starford/mixport/internal/testutil"
)

func testConfig(t *testing.T, rm *testutil.Remote) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.App.LogLevel = slog.LevelError
	cfg.Remote.BaseURL = rm.URL()
	cfg.Remote.Cookie = "serviceToken=t"
	cfg.Remote.RequestsPerSecond = 0
	cfg.Retry.Listing = PolicyConfig{Attempts: 2, Delay: time.Millisecond}
	cfg.Retry.Image = PolicyConfig{Attempts: 2, Delay: time.Millisecond}
	cfg.Export.ArchiveName = "export.zip"
	cfg.Export.Timezone = "UTC"
	cfg.Output.Dir = filepath.Join(dir, "exports")
	cfg.SQLite.Path = filepath.Join(dir, "history.db")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestRunExport_WritesArchiveAndHistory(t *testing.T) {
	rm := testutil.NewRemote(t)
	testutil.Seed(t, rm)
	cfg := testConfig(t, rm)

	var progress bytes.Buffer
	if err := RunExport(context.Background(), WithConfig(cfg), WithProgressOutput(&progress)); err != nil {
		t.Fatalf("RunExport: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Output.Dir, "export.zip")); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	for _, c := range rm.Cookies {
		if c != "serviceToken=t" {
			t.Errorf("cookie = %q", c)
		}
	}

	db, err := history.Open(cfg.SQLite.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, err := db.ListRuns(10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
	if runs[0].State != history.StateDone || runs[0].Stats.Notes != 2 || runs[0].Stats.Images != 1 {
		t.Errorf("run = %+v", runs[0])
	}
}

func TestRunExport_Failure(t *testing.T) {
	rm := testutil.NewRemote(t)
	rm.Pages[""] = testutil.RemotePage{Entries: []string{"n1"}, SyncTag: "t"}
	rm.FailNotes["n1"] = true
	cfg := testConfig(t, rm)

	err := RunExport(context.Background(), WithConfig(cfg), WithProgressOutput(&bytes.Buffer{}))
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Fatalf("RunExport err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Dir, "export.zip")); !os.IsNotExist(err) {
		t.Errorf("archive must not exist after failure: %v", err)
	}
}

func TestRunExport_CookieFile(t *testing.T) {
	rm := testutil.NewRemote(t)
	testutil.Seed(t, rm)
	cfg := testConfig(t, rm)

	cookieFile := filepath.Join(t.TempDir(), "cookie.txt")
	if err := os.WriteFile(cookieFile, []byte("# exported from browser\nuserId=1\nserviceToken=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.Remote.Cookie = ""
	cfg.Remote.CookieFile = cookieFile

	if err := RunExport(context.Background(), WithConfig(cfg), WithProgressOutput(&bytes.Buffer{})); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	if len(rm.Cookies) == 0 || rm.Cookies[0] != "userId=1; serviceToken=file" {
		t.Errorf("cookies = %v", rm.Cookies)
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Error("Run without config should fail")
	}
	if err := RunExport(context.Background()); err == nil {
		t.Error("RunExport without config should fail")
	}
	if err := RunMCP(context.Background()); err == nil {
		t.Error("RunMCP without config should fail")
	}
}
