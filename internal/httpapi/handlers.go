package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrel-ai/chatplane/internal/apierr"
	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/persistence"
	"github.com/kestrel-ai/chatplane/internal/request"
	"github.com/kestrel-ai/chatplane/internal/streaming"
	"github.com/kestrel-ai/chatplane/internal/version"
)

// usageDTO adds the total_tokens convenience field spec.md §6 response
// bodies carry alongside the raw input/output split.
type usageDTO struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func toUsageDTO(u llm.Usage) usageDTO {
	return usageDTO{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, TotalTokens: u.Total()}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody is the structured error shape every failure responds with,
// carrying the correlation id per spec.md §7's "user-visible failures
// include correlation id" policy.
type errorBody struct {
	Error         string     `json:"error"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
}

func respondErr(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError
	if apiErr, ok := apierr.As(err); ok {
		status = apiErr.Kind.Status()
		body.CorrelationID = apiErr.CorrelationID
		if apiErr.Kind == apierr.KindQuotaExhausted {
			resetAt := apiErr.ResetAt
			body.ResetAt = &resetAt
		}
	}
	respondJSON(w, status, body)
}

// withCorrelation attaches cid to err if it's an *apierr.Error, so handlers
// can stamp the envelope's correlation id onto errors surfaced by a service
// layer that has no notion of the HTTP transport.
func withCorrelation(err error, cid string) error {
	if apiErr, ok := apierr.As(err); ok {
		return apiErr.WithCorrelationID(cid)
	}
	return err
}

// envelope resolves the protected request's identity, writing the error
// response itself on failure. ok is false if the caller should return
// immediately.
func (s *Server) envelope(w http.ResponseWriter, r *http.Request) (request.Envelope, bool) {
	env, err := request.Resolve(r.Context(), s.users, r)
	if err != nil {
		respondErr(w, err)
		return request.Envelope{}, false
	}
	return env, true
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Validation("invalid request body", err)
	}
	return nil
}

// --- health & metrics -------------------------------------------------

type healthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Env       string            `json:"env"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"requestId"`
}

// handleHealth implements spec.md §6's public health probe: 503 if any
// dependency reports unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	services := map[string]string{}
	healthy := true

	if err := s.repo.Ping(ctx); err != nil {
		services["database"] = "down"
		healthy = false
	} else {
		services["database"] = "ok"
	}

	if err := s.kv.Ping(ctx); err != nil {
		services["kv"] = "down"
		healthy = false
	} else {
		services["kv"] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, healthResponse{
		Status:    status,
		Services:  services,
		Env:       s.env,
		Version:   version.Version,
		Timestamp: time.Now().UTC(),
		RequestID: r.Header.Get(request.HeaderRequestID),
	})
}

// handleMetrics exposes a minimal plain-text scrape target. Not backed by a
// metrics client library — process-level counters already flow to the OTLP
// collector via internal/observability; this endpoint exists only to satisfy
// spec.md §6's plain-text-exposition requirement for scrapers that can't
// speak OTLP, so hand-formatting a couple of gauges is simpler than pulling
// in a second metrics pipeline for the same data.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "# TYPE chatplane_uptime_seconds gauge\nchatplane_uptime_seconds %f\n", time.Since(s.startedAt).Seconds())
}

// --- chat turns ---------------------------------------------------------

type chatTurnRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chat_id"`
}

type chatTurnResponse struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"created_at"`
	Usage     usageDTO  `json:"usage"`
}

func (s *Server) handleChatTurn(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	var req chatTurnRequest
	if err := decodeBody(r, &req); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}

	result, err := s.chat.Turn(r.Context(), env.OrgID, env.UserID, req.ChatID, req.Message)
	if err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}

	respondJSON(w, http.StatusOK, chatTurnResponse{
		ChatID:    result.ChatID,
		MessageID: result.Message.ID,
		Reply:     result.Message.Content,
		CreatedAt: result.Message.CreatedAt,
		Usage:     toUsageDTO(result.Usage),
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	var req chatTurnRequest
	if err := decodeBody(r, &req); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}

	sw, ok := streaming.NewWriter(w)
	if !ok {
		respondErr(w, apierr.Internal("connection does not support streaming", nil).WithCorrelationID(env.CorrelationID))
		return
	}
	if err := s.chat.TurnStream(r.Context(), sw, env.OrgID, env.UserID, req.ChatID, req.Message); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
	}
}

func (s *Server) handleChatRAG(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	var req chatTurnRequest
	if err := decodeBody(r, &req); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}

	answer, assistant, err := s.chat.AskRAG(r.Context(), env.OrgID, env.UserID, req.ChatID, req.Message)
	if err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"chat_id":    assistant.ChatID,
		"message_id": assistant.ID,
		"reply":      assistant.Content,
		"created_at": assistant.CreatedAt,
		"usage":      toUsageDTO(answer.Usage),
		"rag_context": map[string]any{
			"documents_used": len(answer.Documents),
			"sources":        answer.Sources,
		},
	})
}

func (s *Server) handleChatRAGStream(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	var req chatTurnRequest
	if err := decodeBody(r, &req); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}

	sw, ok := streaming.NewWriter(w)
	if !ok {
		respondErr(w, apierr.Internal("connection does not support streaming", nil).WithCorrelationID(env.CorrelationID))
		return
	}
	if err := s.chat.AskRAGStream(r.Context(), sw, env.OrgID, env.UserID, req.ChatID, req.Message); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
	}
}

// --- chat CRUD -----------------------------------------------------------

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	chats, err := s.chats.ListChats(r.Context(), env.OrgID, env.UserID)
	if err != nil {
		respondErr(w, withCorrelation(apierr.Internal("list chats", err), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	chatID := r.PathValue("chatID")
	c, err := s.chats.GetChat(r.Context(), env.OrgID, chatID)
	if err != nil {
		respondErr(w, withCorrelation(mapNotFound(err, "chat not found"), env.CorrelationID))
		return
	}
	msgs, err := s.messages.ListMessages(r.Context(), env.OrgID, chatID, 0)
	if err != nil {
		respondErr(w, withCorrelation(apierr.Internal("list messages", err), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"chat": c, "messages": msgs})
}

type updateChatRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	chatID := r.PathValue("chatID")
	var req updateChatRequest
	if err := decodeBody(r, &req); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}
	c, err := s.chats.UpdateChatTitle(r.Context(), env.OrgID, chatID, req.Title)
	if err != nil {
		respondErr(w, withCorrelation(mapNotFound(err, "chat not found"), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	chatID := r.PathValue("chatID")
	if err := s.chats.DeleteChat(r.Context(), env.OrgID, chatID); err != nil {
		respondErr(w, withCorrelation(mapNotFound(err, "chat not found"), env.CorrelationID))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// mapNotFound translates a bare persistence.ErrNotFound into the structured
// apierr shape; errors already structured pass through unchanged.
func mapNotFound(err error, msg string) error {
	if _, ok := apierr.As(err); ok {
		return err
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return apierr.NotFound(msg, err)
	}
	return apierr.Internal("internal error", err)
}

// --- documents -----------------------------------------------------------

// ingestionMaxMemory bounds how much of a multipart upload ParseMultipartForm
// buffers in memory before spilling the rest to temp files.
const ingestionMaxMemory = 32 << 20

// handleUploadDocument implements spec.md §4.I's multipart upload. The form
// must carry a single "file" field; its filename and declared content type
// are used as-is, validated by Pipeline.Upload.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(ingestionMaxMemory); err != nil {
		respondErr(w, withCorrelation(apierr.Validation("invalid multipart form", err), env.CorrelationID))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondErr(w, withCorrelation(apierr.Validation(`missing "file" form field`, err), env.CorrelationID))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	doc, err := s.ingestion.Upload(r.Context(), env.OrgID, env.UserID, header.Filename, contentType, header.Size, file)
	if err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	docs, err := s.ingestion.ListDocuments(r.Context(), env.OrgID)
	if err != nil {
		respondErr(w, withCorrelation(apierr.Internal("list documents", err), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	doc, err := s.ingestion.GetDocument(r.Context(), env.OrgID, r.PathValue("documentID"))
	if err != nil {
		respondErr(w, withCorrelation(mapNotFound(err, "document not found"), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	if err := s.ingestion.Delete(r.Context(), env.OrgID, r.PathValue("documentID")); err != nil {
		respondErr(w, withCorrelation(mapNotFound(err, "document not found"), env.CorrelationID))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type searchDocumentsRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	var req searchDocumentsRequest
	if err := decodeBody(r, &req); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}
	results, err := s.ingestion.Search(r.Context(), env.OrgID, req.Query, req.Limit)
	if err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}

// --- prompts --------------------------------------------------------------

func (s *Server) handleListPromptVersions(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	versions, err := s.prompts.ListVersions(r.Context(), r.PathValue("name"))
	if err != nil {
		respondErr(w, withCorrelation(mapNotFound(err, "prompt not found"), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) handleGetPromptVersion(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		respondErr(w, withCorrelation(apierr.Validation("version must be an integer", err), env.CorrelationID))
		return
	}
	p, err := s.prompts.GetVersion(r.Context(), r.PathValue("name"), version)
	if err != nil {
		respondErr(w, withCorrelation(mapNotFound(err, "prompt version not found"), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type createPromptRequest struct {
	Content  string            `json:"content"`
	Active   bool              `json:"active"`
	Metadata map[string]string `json:"metadata"`
}

// handleCreatePrompt is admin/owner-only per spec.md §4.L; the role check
// happens here, in the request envelope, before Registry.Create runs.
func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	if err := request.RequireRole(env, domain.RoleAdmin); err != nil {
		respondErr(w, err)
		return
	}
	var req createPromptRequest
	if err := decodeBody(r, &req); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}
	p, err := s.prompts.Create(r.Context(), r.PathValue("name"), req.Content, env.UserID, req.Active, req.Metadata)
	if err != nil {
		respondErr(w, withCorrelation(apierr.Internal("create prompt version", err), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

type activatePromptRequest struct {
	Version int `json:"version"`
}

// handleActivatePrompt is admin/owner-only per spec.md §4.L.
func (s *Server) handleActivatePrompt(w http.ResponseWriter, r *http.Request) {
	env, ok := s.envelope(w, r)
	if !ok {
		return
	}
	if err := request.RequireRole(env, domain.RoleAdmin); err != nil {
		respondErr(w, err)
		return
	}
	var req activatePromptRequest
	if err := decodeBody(r, &req); err != nil {
		respondErr(w, withCorrelation(err, env.CorrelationID))
		return
	}
	p, err := s.prompts.Activate(r.Context(), r.PathValue("name"), req.Version)
	if err != nil {
		respondErr(w, withCorrelation(mapNotFound(err, "prompt version not found"), env.CorrelationID))
		return
	}
	respondJSON(w, http.StatusOK, p)
}
