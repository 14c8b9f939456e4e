// Package httpapi is the HTTP transport for chatplane's tenant-scoped
// surface (spec.md §6): health and metrics probes, chat turns (unary and
// streaming, plain and RAG-augmented), chat and document CRUD, document
// search, and the prompt registry. Every protected route resolves its
// request envelope via internal/request before calling into a service
// layer package — handlers never touch persistence directly except for the
// thin list/get/update/delete reads spec.md §6 asks for verbatim.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/kestrel-ai/chatplane/internal/chat"
	"github.com/kestrel-ai/chatplane/internal/ingestion"
	"github.com/kestrel-ai/chatplane/internal/kv"
	"github.com/kestrel-ai/chatplane/internal/persistence"
	"github.com/kestrel-ai/chatplane/internal/prompts"
)

// healthPingCloser is the slice of persistence.Repository the health probe
// needs; kept narrow so tests can substitute a minimal double instead of a
// full Repository.
type healthPingCloser interface {
	Ping(ctx context.Context) error
}

// Server wires the request envelope resolver and every service-layer
// package into the HTTP surface.
type Server struct {
	users    persistence.Users
	chats    persistence.Chats
	messages persistence.Messages

	repo healthPingCloser
	kv   kv.Store

	chat      *chat.Service
	ingestion *ingestion.Pipeline
	prompts   *prompts.Registry

	env       string
	startedAt time.Time
	mux       *http.ServeMux
}

// Deps bundles Server's dependencies. Repo backs the health probe's Ping and
// also serves as the Server's Users, Chats and Messages store.
type Deps struct {
	Repo    persistence.Repository
	KV      kv.Store
	Chat    *chat.Service
	Ingest  *ingestion.Pipeline
	Prompts *prompts.Registry
	Env     string
}

// NewServer builds a Server and registers its routes.
func NewServer(d Deps) *Server {
	s := &Server{
		users:     d.Repo,
		chats:     d.Repo,
		messages:  d.Repo,
		repo:      d.Repo,
		kv:        d.KV,
		chat:      d.Chat,
		ingestion: d.Ingest,
		prompts:   d.Prompts,
		env:       d.Env,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)

	s.mux.HandleFunc("POST /api/v1/chat", s.handleChatTurn)
	s.mux.HandleFunc("POST /api/v1/chat/stream", s.handleChatStream)
	s.mux.HandleFunc("POST /api/v1/chat/rag", s.handleChatRAG)
	s.mux.HandleFunc("POST /api/v1/chat/rag/stream", s.handleChatRAGStream)

	s.mux.HandleFunc("GET /api/v1/chats", s.handleListChats)
	s.mux.HandleFunc("GET /api/v1/chats/{chatID}", s.handleGetChat)
	s.mux.HandleFunc("PUT /api/v1/chats/{chatID}", s.handleUpdateChat)
	s.mux.HandleFunc("DELETE /api/v1/chats/{chatID}", s.handleDeleteChat)

	s.mux.HandleFunc("POST /api/v1/documents", s.handleUploadDocument)
	s.mux.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /api/v1/documents/{documentID}", s.handleGetDocument)
	s.mux.HandleFunc("DELETE /api/v1/documents/{documentID}", s.handleDeleteDocument)
	s.mux.HandleFunc("POST /api/v1/documents/search", s.handleSearchDocuments)

	s.mux.HandleFunc("GET /api/v1/prompts/{name}", s.handleListPromptVersions)
	s.mux.HandleFunc("GET /api/v1/prompts/{name}/versions/{version}", s.handleGetPromptVersion)
	s.mux.HandleFunc("POST /api/v1/prompts/{name}", s.handleCreatePrompt)
	s.mux.HandleFunc("POST /api/v1/prompts/{name}/activate", s.handleActivatePrompt)
}
