// Package streaming implements the token-by-token transport for chat and
// RAG turns (spec.md §4.H): framed server-sent events over a long-lived
// HTTP response, disconnect-aware, with best-effort persistence of the
// partial buffer if the client goes away mid-stream.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/observability"
	"github.com/kestrel-ai/chatplane/internal/persistence"
	"github.com/rs/zerolog"
)

// Frame is the JSON shape written on the wire. Exactly one of a token frame,
// completion frame, or error frame terminates a given stream.
type Frame struct {
	Token      string          `json:"token"`
	Done       bool            `json:"done"`
	FullText   string          `json:"fullText"`
	Usage      *llm.Usage      `json:"usage,omitempty"`
	RAGContext json.RawMessage `json:"rag_context,omitempty"`

	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Writer frames and flushes events onto an http.ResponseWriter, tracking
// whether anything has been written yet so callers can fall back to a plain
// JSON error response on synchronous failure before the first frame.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewWriter sets the SSE response headers and returns a Writer. ok is false
// if the underlying ResponseWriter does not support flushing, in which case
// no headers have been written and the caller should fall back to a normal
// JSON response.
func NewWriter(w http.ResponseWriter) (*Writer, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, true
}

// WriteToken emits a token frame.
func (sw *Writer) WriteToken(token string) error {
	return sw.write(Frame{Token: token, Done: false})
}

// WriteCompletion emits the single completion frame that terminates the
// stream. No further frames may follow.
func (sw *Writer) WriteCompletion(fullText string, usage llm.Usage, ragContext json.RawMessage) error {
	return sw.write(Frame{Done: true, FullText: fullText, Usage: &usage, RAGContext: ragContext})
}

// WriteError emits the single error frame that terminates the stream.
func (sw *Writer) WriteError(kind, message string) error {
	return sw.write(Frame{Error: kind, Message: message})
}

func (sw *Writer) write(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	sw.started = true
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Started reports whether any frame has been written yet. A synchronous
// failure before the first frame should fall back to a plain JSON error
// response instead of an error frame.
func (sw *Writer) Started() bool { return sw.started }

// TokenSource produces tokens for a stream. It returns the accumulated full
// text and usage once exhausted, or an error if generation failed before any
// token was produced (the fallback chain in (G) already decided whether a
// fallback provider should be tried).
type TokenSource func(ctx context.Context, onToken func(string)) (fullText string, usage llm.Usage, err error)

// PersistFunc appends the assistant's turn to (A) once the stream has ended,
// successfully or partially.
type PersistFunc func(ctx context.Context, text string) error

// Run drives source, framing tokens onto w as they arrive, detecting client
// disconnect via ctx, and persisting the accumulated buffer through persist
// exactly once the stream ends — after the completion frame on success, or
// best-effort on disconnect/error. ragContext, if non-nil, rides along in the
// completion frame only.
func Run(ctx context.Context, w *Writer, source TokenSource, persist PersistFunc, ragContext json.RawMessage) {
	log := observability.LoggerWithTrace(ctx)

	var buf strings.Builder
	disconnected := false

	onToken := func(tok string) {
		if disconnected {
			return
		}
		select {
		case <-ctx.Done():
			disconnected = true
			return
		default:
		}
		buf.WriteString(tok)
		if err := w.WriteToken(tok); err != nil {
			disconnected = true
		}
	}

	fullText, usage, err := source(ctx, onToken)

	if disconnected || ctx.Err() != nil {
		persistPartial(ctx, log, persist, buf.String())
		return
	}

	if err != nil {
		if w.Started() {
			_ = w.WriteError("upstream", err.Error())
			persistPartial(ctx, log, persist, buf.String())
			return
		}
		// Synchronous failure before any frame: caller falls back to a
		// normal JSON error response. Nothing to persist.
		return
	}

	if fullText == "" {
		fullText = buf.String()
	}
	if err := w.WriteCompletion(fullText, usage, ragContext); err != nil {
		persistPartial(ctx, log, persist, fullText)
		return
	}
	if persist != nil {
		if err := persist(ctx, fullText); err != nil {
			log.Warn().Err(err).Msg("streaming_persist_failed")
		}
	}
}

func persistPartial(ctx context.Context, log *zerolog.Logger, persist PersistFunc, text string) {
	if persist == nil || text == "" {
		return
	}
	// The request context is already done; persist with a short-lived
	// background context so the best-effort write still completes.
	bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := persist(bgCtx, text); err != nil {
		log.Warn().Err(err).Msg("streaming_partial_persist_failed")
	}
}

// PersistAssistantMessage returns a PersistFunc that appends text as an
// assistant message on chatID within orgID.
func PersistAssistantMessage(messages persistence.Messages, orgID, chatID string) PersistFunc {
	return func(ctx context.Context, text string) error {
		_, err := messages.AppendMessage(ctx, orgID, domain.Message{
			ChatID:  chatID,
			Role:    domain.MessageRoleAssistant,
			Content: text,
		})
		return err
	}
}

// SimulatedFromText builds a TokenSource that replays text word-by-word with
// small randomized inter-token delays, for infrastructure tests that need a
// deterministic-shaped but asynchronous token source (spec.md §4.H's
// "simulated-stream mode").
func SimulatedFromText(text string, minDelay, maxDelay time.Duration) TokenSource {
	words := strings.Fields(text)
	return func(ctx context.Context, onToken func(string)) (string, llm.Usage, error) {
		var buf strings.Builder
		for i, word := range words {
			select {
			case <-ctx.Done():
				return buf.String(), llm.Usage{}, ctx.Err()
			default:
			}
			tok := word
			if i < len(words)-1 {
				tok += " "
			}
			buf.WriteString(tok)
			onToken(tok)
			delay := minDelay
			if maxDelay > minDelay {
				delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return buf.String(), llm.Usage{}, ctx.Err()
			}
		}
		tokens := llm.EstimateTokens(buf.String())
		return buf.String(), llm.Usage{OutputTokens: tokens}, nil
	}
}
