package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kestrel-ai/chatplane/internal/chat"
	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/ingestion"
	"github.com/kestrel-ai/chatplane/internal/kv"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/memory"
	"github.com/kestrel-ai/chatplane/internal/objectstore"
	memorystore "github.com/kestrel-ai/chatplane/internal/persistence/memory"
	"github.com/kestrel-ai/chatplane/internal/prompts"
	"github.com/kestrel-ai/chatplane/internal/quota"
	"github.com/kestrel-ai/chatplane/internal/queue"
	"github.com/kestrel-ai/chatplane/internal/rag"
	"github.com/kestrel-ai/chatplane/internal/request"
	"github.com/kestrel-ai/chatplane/internal/vectorstore"
)

type fakeProvider struct{ reply string }

func (f *fakeProvider) Chat(ctx context.Context, system string, msgs []llm.Message) (string, llm.Usage, error) {
	return f.reply, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string)) (string, llm.Usage, error) {
	onToken(f.reply)
	return f.reply, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeProvider) EstimateTokens(text string) int { return len(text) / 4 }

func (f *fakeProvider) WouldExceedBudget(msgs []llm.Message, maxTokens int) bool { return false }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, vectorstore.Dimension), nil
}

const (
	testOrg  = "org-1"
	testUser = "user-1"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memorystore.New()
	store.SeedOrganization(domain.Organization{ID: testOrg, Name: "Acme", Slug: "acme"})
	store.SeedUser(domain.User{ID: testUser, OrgID: testOrg, Email: "u1@acme.test", Role: domain.RoleOwner})

	q := quota.New(kv.NewMemoryStore(), quota.Config{Capacity: 100, RefillRate: 100, TTL: time.Minute})
	gw := llm.NewGateway(&fakeProvider{reply: "hello there"}, nil, nil)
	mem := memory.New(store, store, kv.NewMemoryStore(), gw, memory.DefaultConfig())
	vectors := vectorstore.NewMemory()
	orchestrator := rag.New(gw, vectors, fakeEmbedder{})
	chatSvc := chat.New(store, store, q, mem, gw, orchestrator)

	pipeline := ingestion.New(store, objectstore.NewMemoryStore(), queue.NewMemoryQueue(), vectors, fakeEmbedder{})
	promptRegistry := prompts.New(store)

	return NewServer(Deps{
		Repo:    store,
		KV:      kv.NewMemoryStore(),
		Chat:    chatSvc,
		Ingest:  pipeline,
		Prompts: promptRegistry,
		Env:     "test",
	})
}

func authedRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(request.HeaderOrgID, testOrg)
	req.Header.Set(request.HeaderUserID, testUser)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealth_ReportsOKWhenDependenciesAreUp(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Services["database"] != "ok" || body.Services["kv"] != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestMetrics_ServesPlainText(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Fatal("expected a content type header")
	}
}

func TestChatTurn_MissingIdentityReturnsUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader([]byte(`{"message":"hi"}`)))
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChatTurn_HappyPathThenListAndGet(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/chat", []byte(`{"message":"hi"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var turn chatTurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.ChatID == "" || turn.Reply != "hello there" || turn.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected turn response: %+v", turn)
	}

	listRec := httptest.NewRecorder()
	srv.ServeHTTP(listRec, authedRequest(http.MethodGet, "/api/v1/chats", nil))
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var listBody struct {
		Chats []domain.Chat `json:"chats"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, c := range listBody.Chats {
		if c.ID == turn.ChatID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in chat list, got %+v", turn.ChatID, listBody.Chats)
	}

	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, authedRequest(http.MethodGet, "/api/v1/chats/"+turn.ChatID, nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
	var getBody struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(getRec.Body.Bytes(), &getBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(getBody.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(getBody.Messages))
	}
}

func TestChat_TenantIsolationReturnsNotFoundNotForbidden(t *testing.T) {
	store := memorystore.New()
	store.SeedOrganization(domain.Organization{ID: testOrg, Name: "Acme", Slug: "acme"})
	store.SeedUser(domain.User{ID: testUser, OrgID: testOrg, Role: domain.RoleOwner})
	store.SeedOrganization(domain.Organization{ID: "org-2", Name: "Globex", Slug: "globex"})
	store.SeedUser(domain.User{ID: "user-2", OrgID: "org-2", Role: domain.RoleOwner})

	q := quota.New(kv.NewMemoryStore(), quota.Config{Capacity: 100, RefillRate: 100, TTL: time.Minute})
	gw := llm.NewGateway(&fakeProvider{reply: "hello there"}, nil, nil)
	mem := memory.New(store, store, kv.NewMemoryStore(), gw, memory.DefaultConfig())
	vectors := vectorstore.NewMemory()
	srv := NewServer(Deps{
		Repo:    store,
		KV:      kv.NewMemoryStore(),
		Chat:    chat.New(store, store, q, mem, gw, rag.New(gw, vectors, fakeEmbedder{})),
		Ingest:  ingestion.New(store, objectstore.NewMemoryStore(), queue.NewMemoryQueue(), vectors, fakeEmbedder{}),
		Prompts: prompts.New(store),
		Env:     "test",
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/chat", []byte(`{"message":"hi"}`)))
	var turn chatTurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/"+turn.ChatID, nil)
	req.Header.Set(request.HeaderOrgID, "org-2")
	req.Header.Set(request.HeaderUserID, "user-2")
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a cross-tenant chat lookup, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

func TestChatTurn_RejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/chat", []byte(`{"message":""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestDocumentUpload_RejectsUnsupportedType(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("hello"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(request.HeaderOrgID, testOrg)
	req.Header.Set(request.HeaderUserID, testUser)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPrompts_CreateRequiresAdminRole(t *testing.T) {
	store := memorystore.New()
	store.SeedOrganization(domain.Organization{ID: testOrg, Name: "Acme", Slug: "acme"})
	store.SeedUser(domain.User{ID: "member-1", OrgID: testOrg, Role: domain.RoleMember})
	q := quota.New(kv.NewMemoryStore(), quota.Config{Capacity: 100, RefillRate: 100, TTL: time.Minute})
	gw := llm.NewGateway(&fakeProvider{reply: "hi"}, nil, nil)
	mem := memory.New(store, store, kv.NewMemoryStore(), gw, memory.DefaultConfig())
	vectors := vectorstore.NewMemory()
	srv := NewServer(Deps{
		Repo:    store,
		KV:      kv.NewMemoryStore(),
		Chat:    chat.New(store, store, q, mem, gw, rag.New(gw, vectors, fakeEmbedder{})),
		Ingest:  ingestion.New(store, objectstore.NewMemoryStore(), queue.NewMemoryQueue(), vectors, fakeEmbedder{}),
		Prompts: prompts.New(store),
		Env:     "test",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prompts/chat", bytes.NewReader([]byte(`{"content":"v1","active":true}`)))
	req.Header.Set(request.HeaderOrgID, testOrg)
	req.Header.Set(request.HeaderUserID, "member-1")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a member creating a prompt, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPrompts_CreateAndActivateAsOwner(t *testing.T) {
	srv := newTestServer(t)

	createRec := httptest.NewRecorder()
	srv.ServeHTTP(createRec, authedRequest(http.MethodPost, "/api/v1/prompts/chat", []byte(`{"content":"v1 content","active":true}`)))
	if createRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createRec.Code, createRec.Body.String())
	}

	createRec2 := httptest.NewRecorder()
	srv.ServeHTTP(createRec2, authedRequest(http.MethodPost, "/api/v1/prompts/chat", []byte(`{"content":"v2 content","active":false}`)))
	if createRec2.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createRec2.Code, createRec2.Body.String())
	}

	activateRec := httptest.NewRecorder()
	srv.ServeHTTP(activateRec, authedRequest(http.MethodPost, "/api/v1/prompts/chat/activate", []byte(`{"version":2}`)))
	if activateRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", activateRec.Code, activateRec.Body.String())
	}

	listRec := httptest.NewRecorder()
	srv.ServeHTTP(listRec, authedRequest(http.MethodGet, "/api/v1/prompts/chat", nil))
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var listBody struct {
		Versions []domain.Prompt `json:"versions"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listBody.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(listBody.Versions))
	}
}
