package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mixport/internal/export"
	"github.com/starford/mixport/internal/exportservice"
	"github.com/starford/mixport/internal/history"
	"github.com/starford/mixport/internal/remote"
	"github.com/starford/mixport/internal/resolver"
	"github.com/starford/mixport/internal/retry"
	"github.com/starford/mixport/internal/testutil"
)

func testServer(t *testing.T) (*Server, *exportservice.Service, *testutil.Remote) {
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

	return New(svc), svc, rm
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "start_export":
		result, err = srv.startExport(ctx, req)
	case "export_status":
		result, err = srv.exportStatus(ctx, req)
	case "cancel_export":
		result, err = srv.cancelExport(ctx, req)
	case "list_exports":
		result, err = srv.listExports(ctx, req)
	case "get_archive_layout":
		result, err = srv.getArchiveLayout(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestStartExport_Wait(t *testing.T) {
	srv, _, rm := testServer(t)
	testutil.Seed(t, rm)

	r := callTool(t, srv, "start_export", map[string]interface{}{"wait": true})
	if r.IsError {
		t.Fatalf("start_export error: %s", resultText(r))
	}
	var st exportservice.Status
	if err := json.Unmarshal([]byte(resultText(r)), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != "done" || st.Stats == nil || st.Stats.Notes != 2 || st.Location == "" {
		t.Errorf("status = %+v", st)
	}

	r = callTool(t, srv, "list_exports", map[string]interface{}{"limit": 5})
	var runs []history.Run
	if err := json.Unmarshal([]byte(resultText(r)), &runs); err != nil {
		t.Fatalf("decode runs: %v (%s)", err, resultText(r))
	}
	if len(runs) != 1 || runs[0].ID != st.RunID || runs[0].State != history.StateDone {
		t.Errorf("runs = %+v", runs)
	}
}

func TestStartExport_AlreadyRunning(t *testing.T) {
	srv, svc, rm := testServer(t)
	rm.Pages[""] = testutil.RemotePage{Entries: []string{"n1"}, SyncTag: "t"}
	rm.FailNotes["n1"] = true

	r := callTool(t, srv, "start_export", map[string]interface{}{})
	if r.IsError || !strings.HasPrefix(resultText(r), "started: ") {
		t.Fatalf("start = %q", resultText(r))
	}
	if r := callTool(t, srv, "start_export", map[string]interface{}{}); !r.IsError {
		t.Error("expected error for concurrent start")
	}

	r = callTool(t, srv, "export_status", map[string]interface{}{})
	if !strings.Contains(resultText(r), `"running": true`) {
		t.Errorf("status = %s", resultText(r))
	}

	if r := callTool(t, srv, "cancel_export", map[string]interface{}{}); r.IsError {
		t.Errorf("cancel error: %s", resultText(r))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if st, err := svc.Wait(ctx); err != nil || st.State != "failed" {
		t.Errorf("after cancel: %+v, %v", st, err)
	}
	if r := callTool(t, srv, "cancel_export", map[string]interface{}{}); !r.IsError {
		t.Error("expected error when nothing runs")
	}
}

func TestListExports_Empty(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "list_exports", map[string]interface{}{})
	if resultText(r) != "no exports recorded" {
		t.Errorf("list = %q", resultText(r))
	}
}

func TestArchiveLayout(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_archive_layout", map[string]interface{}{})
	for _, want := range []string{"notes/", "images/", "<imageId>.png", "](images/<id>.png)"} {
		if !strings.Contains(resultText(r), want) {
			t.Errorf("layout does not mention %q", want)
		}
	}

	contents, err := srv.readArchiveLayoutResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != layoutURI {
		t.Errorf("resource = %+v", contents[0])
	}
}
