package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/mixport/internal/export"
	"github.com/starford/mixport/internal/exportservice"
	"github.com/starford/mixport/internal/remote"
	"github.com/starford/mixport/internal/resolver"
	"github.com/starford/mixport/internal/retry"
	"github.com/starford/mixport/internal/testutil"
)

// testEnv wires a service against a fake remote and returns it with a router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*exportservice.Service, *testutil.Remote, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) (*exportservice.Service, *testutil.Remote, http.Handler) {
	t.Helper()

	rm := testutil.NewRemote(t)
	client, err := remote.NewClient(remote.Options{BaseURL: rm.URL(), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	_, store := testutil.TestStore(t)
	policy := retry.Policy{MaxAttempts: 1000, Delay: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	svc := exportservice.New(ctx, exportservice.Options{
		ArchiveName: "export_{run}.zip",
		Factory: func(name string) *export.Orchestrator {
			return export.New(
				remote.NewCrawler(client, policy),
				resolver.New(client, retry.Policy{MaxAttempts: 1}, 2, testutil.QuietLogger()),
				store,
				export.Options{ArchiveName: name},
				testutil.QuietLogger(),
			)
		},
		Ledger: testutil.TestDB(t),
		Store:  store,
		Logger: testutil.QuietLogger(),
	})
	t.Cleanup(func() {
		cancel()
		wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer wcancel()
		_, _ = svc.Wait(wctx)
	})

	router := NewRouter(svc, authToken != "", authToken, sseHandler)
	return svc, rm, router
}

func do(router http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitIdle(t *testing.T, svc *exportservice.Service) exportservice.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := svc.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return st
}

func TestStartExportAndDownload(t *testing.T) {
	svc, rm, router := testEnv(t, "")
	testutil.Seed(t, rm)

	w := do(router, http.MethodPost, "/export")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", w.Code, w.Body.String())
	}
	var started StartExportResponse
	_ = json.Unmarshal(w.Body.Bytes(), &started)
	if started.RunID == "" {
		t.Fatal("run_id is empty")
	}

	st := waitIdle(t, svc)
	if st.State != "done" {
		t.Fatalf("status = %+v", st)
	}

	w = do(router, http.MethodGet, "/export/status")
	var status ExportStatus
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if w.Code != http.StatusOK || status.RunID != started.RunID || status.Stats == nil || status.Stats.Notes != 2 {
		t.Errorf("status = %d %+v", w.Code, status)
	}

	w = do(router, http.MethodGet, "/exports")
	var runs RunListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &runs)
	if len(runs.Runs) != 1 || runs.Runs[0].ID != started.RunID {
		t.Fatalf("runs = %s", w.Body.String())
	}

	w = do(router, http.MethodGet, "/exports/"+started.RunID)
	var detail RunDetailResponse
	_ = json.Unmarshal(w.Body.Bytes(), &detail)
	if w.Code != http.StatusOK || len(detail.Files) == 0 {
		t.Errorf("detail = %d %s", w.Code, w.Body.String())
	}

	name := runs.Runs[0].ArchiveName
	w = do(router, http.MethodGet, "/archives/"+name)
	if w.Code != http.StatusOK {
		t.Fatalf("download = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content-type = %q", ct)
	}
	if int64(w.Body.Len()) != runs.Runs[0].Size {
		t.Errorf("downloaded %d bytes, recorded %d", w.Body.Len(), runs.Runs[0].Size)
	}

	etag := w.Header().Get("ETag")
	req := httptest.NewRequest(http.MethodGet, "/archives/"+name, nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	router.ServeHTTP(cached, req)
	if etag == "" || cached.Code != http.StatusNotModified || cached.Body.Len() != 0 {
		t.Errorf("conditional download = %d (etag %q)", cached.Code, etag)
	}

	w = do(router, http.MethodGet, "/archives")
	var list ArchiveListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Archives) != 1 || list.Archives[0].Name != name {
		t.Errorf("archives = %s", w.Body.String())
	}

	if w := do(router, http.MethodDelete, "/archives/"+name); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/archives/"+name); w.Code != http.StatusNotFound {
		t.Errorf("download after delete = %d, want 404", w.Code)
	}
}

func TestStartExport_Conflict(t *testing.T) {
	svc, rm, router := testEnv(t, "")
	rm.Pages[""] = testutil.RemotePage{Entries: []string{"n1"}, SyncTag: "t"}
	rm.FailNotes["n1"] = true

	if w := do(router, http.MethodPost, "/export"); w.Code != http.StatusAccepted {
		t.Fatalf("first start = %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/export"); w.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", w.Code)
	}

	if w := do(router, http.MethodPost, "/export/cancel"); w.Code != http.StatusAccepted {
		t.Errorf("cancel = %d", w.Code)
	}
	if st := waitIdle(t, svc); st.State != "failed" {
		t.Errorf("status after cancel = %+v", st)
	}
	if w := do(router, http.MethodPost, "/export/cancel"); w.Code != http.StatusConflict {
		t.Errorf("cancel when idle = %d, want 409", w.Code)
	}
}

func TestExportStatus_Idle(t *testing.T) {
	_, _, router := testEnv(t, "")
	w := do(router, http.MethodGet, "/export/status")
	var st ExportStatus
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if w.Code != http.StatusOK || st.State != "idle" || st.Running {
		t.Errorf("status = %d %s", w.Code, w.Body.String())
	}
}

func TestListExports_Empty(t *testing.T) {
	_, _, router := testEnv(t, "")
	w := do(router, http.MethodGet, "/exports?limit=5")
	if w.Code != http.StatusOK || w.Body.String() != "{\"runs\":[]}\n" {
		t.Errorf("exports = %d %q", w.Code, w.Body.String())
	}
}

func TestGetExport_NotFound(t *testing.T) {
	_, _, router := testEnv(t, "")
	if w := do(router, http.MethodGet, "/exports/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown run = %d, want 404", w.Code)
	}
}

func TestDownloadArchive_NotFound(t *testing.T) {
	_, _, router := testEnv(t, "")
	if w := do(router, http.MethodGet, "/archives/missing.zip"); w.Code != http.StatusNotFound {
		t.Errorf("missing archive = %d, want 404", w.Code)
	}
}

func TestDownloadArchive_InvalidName(t *testing.T) {
	_, _, router := testEnv(t, "")
	if w := do(router, http.MethodGet, "/archives/.."); w.Code == http.StatusOK {
		t.Errorf("dot-dot archive = %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/archives/a%5Cb.zip"); w.Code == http.StatusOK {
		t.Errorf("backslash archive = %d", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, _, router := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/export/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with valid token = %d", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, _, router := testEnv(t, "secret")
	if w := do(router, http.MethodGet, "/export/status"); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, _, router := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodPost, "/export", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_QueryTokenOnlyForGet(t *testing.T) {
	_, _, router := testEnv(t, "secret")
	if w := do(router, http.MethodGet, "/export/status?access_token=secret"); w.Code != http.StatusOK {
		t.Errorf("GET with query token = %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/export?access_token=secret"); w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, _, router := testEnv(t, "")
	if w := do(router, http.MethodGet, "/exports"); w.Code != http.StatusOK {
		t.Errorf("disabled auth = %d", w.Code)
	}
}

// sseStub writes headers and blocks until the request context is done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, _, router := testEnvWithSSE(t, "tok", sseStub)
	if w := do(router, http.MethodGet, "/events"); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE without token = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, _, router := testEnvWithSSE(t, "tok", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d", w.Code)
	}
}
