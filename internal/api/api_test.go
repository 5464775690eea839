package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/marginalia/internal/annotator"
	"github.com/starford/marginalia/internal/engine"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/testutil"
	"github.com/starford/marginalia/internal/thread"
	"github.com/starford/marginalia/internal/worker"
	"github.com/starford/marginalia/internal/workspace"
)

const draftJSON = `{"type":"doc","content":[
	{"type":"heading","attrs":{"blockId":"H1","level":1},"content":[{"type":"text","text":"Plan"}]},
	{"type":"paragraph","attrs":{"blockId":"P1"},"content":[{"type":"text","text":"Write the draft."}]}
]}`

var grammar = annotator.Static{{Name: "grammar", Prompt: "Fix grammar."}}

// testEnv sets up a temp vault, SQLite DB, workspace, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*workspace.Service, http.Handler) {
	t.Helper()
	svc, router, _ := testEnvFull(t, authToken != "", authToken, nil)
	return svc, router
}

func testEnvFull(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) (*workspace.Service, http.Handler, storage.Provider) {
	t.Helper()
	db := testutil.TestDB(t)
	_, vault := testutil.TestVault(t)

	cfg := engine.DefaultConfig()
	cfg.Debounce = time.Hour
	cfg.IdleHide = 0
	svc := workspace.NewService(db, grammar, worker.Echo{},
		workspace.WithVault(vault),
		workspace.WithEngineConfig(cfg),
		workspace.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(func() { _ = svc.Close() })

	router := NewRouter(svc, authEnabled, authToken, sseHandler)
	return svc, router, vault
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createDraft(t *testing.T, router http.Handler) DocumentDetail {
	t.Helper()
	w := do(t, router, http.MethodPost, "/documents", map[string]any{
		"name":    "draft",
		"title":   "Draft",
		"tags":    []string{"work"},
		"content": json.RawMessage(draftJSON),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var doc DocumentDetail
	_ = json.Unmarshal(w.Body.Bytes(), &doc)
	return doc
}

func TestCreateAndGetDocument(t *testing.T) {
	_, router := testEnv(t, "")
	created := createDraft(t, router)
	if created.Name != "draft" || len(created.Blocks) != 2 {
		t.Fatalf("created = %+v", created)
	}

	w := do(t, router, http.MethodGet, "/documents/draft", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if etag := w.Header().Get("ETag"); etag != `"`+created.Checksum+`"` {
		t.Errorf("ETag = %q", etag)
	}
	var doc DocumentDetail
	_ = json.Unmarshal(w.Body.Bytes(), &doc)
	if doc.Title != "Draft" || doc.Blocks[1].ID != "P1" {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.Blocks[1].Threads) != 1 || doc.Blocks[1].Threads[0].Annotator != "grammar" {
		t.Errorf("threads = %+v", doc.Blocks[1].Threads)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router)
	w := do(t, router, http.MethodPost, "/documents", map[string]string{"name": "draft"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodPost, "/documents", "{not json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/documents", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing name = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/documents", map[string]string{"name": "../x"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad name = %d", w.Code)
	}
}

func TestSaveWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "")
	created := createDraft(t, router)

	if w := do(t, router, http.MethodPut, "/documents/draft/blocks/P1", map[string]string{"text": "Write it."}); w.Code != http.StatusNoContent {
		t.Fatalf("edit = %d, body = %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodPut, "/documents/draft", nil)
	req.Header.Set("If-Match", `"wrong"`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("stale save = %d, want 409", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/documents/draft", nil)
	req.Header.Set("If-Match", `"`+created.Checksum+`"`)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("save = %d, body = %s", w.Code, w.Body.String())
	}
	var saved DocumentDetail
	_ = json.Unmarshal(w.Body.Bytes(), &saved)
	if saved.Checksum == created.Checksum {
		t.Error("checksum unchanged after save")
	}
}

func TestSaveNotOpen(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodPut, "/documents/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("save missing = %d, want 404", w.Code)
	}
}

func TestListAndDeleteDocuments(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router)

	w := do(t, router, http.MethodGet, "/documents?tag=work", nil)
	var list DocumentListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 || len(list.Documents) != 1 || !list.Documents[0].Open {
		t.Errorf("list = %+v", list)
	}

	if w := do(t, router, http.MethodDelete, "/documents/draft", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/documents/draft", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/documents/draft", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestImportAndExport(t *testing.T) {
	_, router, vault := testEnvFull(t, false, "", nil)
	_ = vault.Write("plan.md", []byte("# Plan\n\nShip it.\n"))

	w := do(t, router, http.MethodPost, "/documents/import", map[string]string{"path": "plan.md"})
	if w.Code != http.StatusCreated {
		t.Fatalf("import = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPost, "/documents/import", map[string]string{"path": "nope.md"}); w.Code != http.StatusNotFound {
		t.Errorf("import missing = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodPost, "/documents/plan/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d, body = %s", w.Code, w.Body.String())
	}
	var res ExportResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Path != "plan.md" {
		t.Errorf("export path = %q", res.Path)
	}
}

func TestBlockEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router)

	w := do(t, router, http.MethodPost, "/documents/draft/blocks/P1/split", map[string]int{"offset": 5})
	if w.Code != http.StatusCreated {
		t.Fatalf("split = %d, body = %s", w.Code, w.Body.String())
	}
	var split BlockIDResponse
	_ = json.Unmarshal(w.Body.Bytes(), &split)
	if split.BlockID == "" || split.BlockID == "P1" {
		t.Fatalf("split id = %q", split.BlockID)
	}

	w = do(t, router, http.MethodPost, "/documents/draft/blocks", map[string]any{"after": "H1", "level": 2, "text": "Goals"})
	if w.Code != http.StatusCreated {
		t.Fatalf("insert = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/documents/draft/blocks", map[string]any{"level": 9}); w.Code != http.StatusBadRequest {
		t.Errorf("bad level = %d", w.Code)
	}

	if w := do(t, router, http.MethodPost, "/documents/draft/blocks/P1/join", map[string]string{"next": split.BlockID}); w.Code != http.StatusNoContent {
		t.Errorf("join = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodDelete, "/documents/draft/blocks/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete missing block = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodGet, "/documents/draft/blocks", nil)
	var blocks []BlockView
	_ = json.Unmarshal(w.Body.Bytes(), &blocks)
	if len(blocks) != 3 || blocks[1].Text != "Goals" || blocks[2].Text != "Write the draft." {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestThreadEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router)
	base := "/documents/draft/blocks/P1/threads/grammar"

	w := do(t, router, http.MethodPost, base+"/messages", map[string]string{"content": "Is this clear?"})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPost, base+"/messages", map[string]string{"content": ""}); w.Code != http.StatusBadRequest {
		t.Errorf("empty message = %d, want 400", w.Code)
	}

	// The echo worker answers the user turn.
	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		var view ThreadView
		_ = json.Unmarshal(do(t, router, http.MethodGet, base, nil).Body.Bytes(), &view)
		return len(view.Messages) == 3 && view.Messages[2].Role == thread.RoleAnnotator
	}, "reply never arrived")

	w = do(t, router, http.MethodPost, base+"/toggle", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"visible"`) {
		t.Errorf("toggle = %d %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPost, "/documents/draft/hide-all", nil); !strings.Contains(w.Body.String(), `"hidden":1`) {
		t.Errorf("hide-all = %s", w.Body.String())
	}
	if w := do(t, router, http.MethodPost, base+"/dismiss", nil); w.Code != http.StatusNoContent {
		t.Errorf("dismiss = %d", w.Code)
	}

	w = do(t, router, http.MethodPut, base, map[string]any{"messages": []thread.Message{}})
	if w.Code != http.StatusOK {
		t.Fatalf("reset = %d", w.Code)
	}
	var view ThreadView
	_ = json.Unmarshal(w.Body.Bytes(), &view)
	if len(view.Messages) != 0 {
		t.Errorf("messages after reset = %+v", view.Messages)
	}
	if w := do(t, router, http.MethodPut, base, map[string]any{"messages": []map[string]string{{"role": "user"}}}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid reset = %d, want 400", w.Code)
	}

	if w := do(t, router, http.MethodGet, "/documents/draft/blocks/nope/threads", nil); w.Code != http.StatusNotFound {
		t.Errorf("threads of missing block = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/documents/draft/blocks/nope/threads/grammar/toggle", nil); w.Code != http.StatusNotFound {
		t.Errorf("toggle missing block = %d, want 404", w.Code)
	}
}

func TestReannotateAndFlush(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router)

	if w := do(t, router, http.MethodPost, "/documents/draft/flush", nil); !strings.Contains(w.Body.String(), `"ran":false`) {
		t.Errorf("flush without edits = %s", w.Body.String())
	}
	if w := do(t, router, http.MethodPost, "/documents/draft/reannotate", nil); w.Code != http.StatusAccepted {
		t.Fatalf("reannotate = %d", w.Code)
	}
	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		var view ThreadView
		_ = json.Unmarshal(do(t, router, http.MethodGet, "/documents/draft/blocks/H1/threads/grammar", nil).Body.Bytes(), &view)
		return len(view.Messages) == 1 && view.Messages[0].Content == "[grammar] Plan"
	}, "heading never annotated")
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router)

	w := do(t, router, http.MethodGet, "/search?q=draft", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].BlockID != "P1" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/documents", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

func sseStub() http.Handler {
	// Writes headers and blocks until context done.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router, _ := testEnvFull(t, true, "secret", sseStub())
	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router, _ := testEnvFull(t, true, "tok", sseStub())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router, _ := testEnvFull(t, true, "tok", sseStub())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with query token should not 401")
	}
}

func TestQueryTokenRejectedOutsideEvents(t *testing.T) {
	_, router := testEnv(t, "tok")
	if w := do(t, router, http.MethodGet, "/documents?access_token=tok", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("query token on REST = %d, want 401", w.Code)
	}
}
