// Package rag implements the retrieval-augmented chat orchestrator
// (spec.md §4.K): embed the user's query, search the tenant-scoped vector
// index, and either pass the raw query through on a zero-hit miss or
// compose a document-grounded augmented turn before calling the LLM
// gateway. Superseded from this workspace's earlier hybrid full-text +
// vector + graph retrieval service — that shape doesn't match this
// system's single Qdrant-backed index, so the orchestration here is new,
// while `internal/vectorstore` carries forward the one piece of that
// older design (`qdrant_vector.go`) this system still needs.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrel-ai/chatplane/internal/llm"
	"github.com/kestrel-ai/chatplane/internal/vectorstore"
)

// SearchLimit is spec.md §4.K's fixed retrieval width.
const SearchLimit = 5

// Document is one excerpt surfaced to the caller alongside the answer.
type Document struct {
	Content  string  `json:"content"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}

// Answer is the unary response shape.
type Answer struct {
	Answer    string     `json:"answer"`
	Documents []Document `json:"documents"`
	Sources   []string   `json:"sources"`
	Usage     llm.Usage  `json:"usage"`
}

// Context is the streaming completion frame's rag_context payload.
type Context struct {
	DocumentsUsed int      `json:"documents_used"`
	Sources       []string `json:"sources"`
}

// Orchestrator answers a query against a chat's prior turns and the org's
// indexed documents.
type Orchestrator struct {
	gateway  *llm.Gateway
	vectors  vectorstore.Store
	embedder llm.Embedder
}

func New(gateway *llm.Gateway, vectors vectorstore.Store, embedder llm.Embedder) *Orchestrator {
	return &Orchestrator{gateway: gateway, vectors: vectors, embedder: embedder}
}

// retrieve embeds query and searches the org's documents, returning hits
// ordered by descending score.
func (o *Orchestrator) retrieve(ctx context.Context, orgID, query string) ([]vectorstore.Result, error) {
	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := o.vectors.Search(ctx, vec, SearchLimit, map[string]string{"org_id": orgID})
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func toDocuments(results []vectorstore.Result) []Document {
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, Document{
			Content:  r.Metadata["content"],
			Filename: r.Metadata["filename"],
			Score:    r.Score,
		})
	}
	return docs
}

func uniqueSources(docs []Document) []string {
	seen := make(map[string]struct{}, len(docs))
	var out []string
	for _, d := range docs {
		if d.Filename == "" {
			continue
		}
		if _, ok := seen[d.Filename]; ok {
			continue
		}
		seen[d.Filename] = struct{}{}
		out = append(out, d.Filename)
	}
	return out
}

// augmentedTurn composes the document-grounded user turn per spec.md §4.K's
// format: an instruction block, the numbered excerpts, then the original
// question.
func augmentedTurn(query string, docs []Document) string {
	var b strings.Builder
	b.WriteString("Answer the question using the document excerpts below when they are relevant. ")
	b.WriteString("Cite the documents you use by their number (e.g. \"Document 1\"). ")
	b.WriteString("If the excerpts don't contain the answer, fall back to your general knowledge.\n\n")
	b.WriteString("[DOCUMENT EXCERPTS]\n")
	for i, d := range docs {
		if i > 0 {
			b.WriteString("---\n")
		}
		fmt.Fprintf(&b, "Document %d (%s): %s\n", i+1, d.Filename, d.Content)
	}
	b.WriteString("\n[USER QUESTION]\n")
	b.WriteString(query)
	return b.String()
}

// withTurn returns a fresh slice with turn appended as a user message,
// never mutating history's backing array.
func withTurn(history []llm.Message, turn string) []llm.Message {
	out := make([]llm.Message, len(history), len(history)+1)
	copy(out, history)
	return append(out, llm.Message{Role: llm.RoleUser, Content: turn})
}

// Ask runs the unary RAG flow: retrieve, optionally augment, call the
// gateway, and shape the response.
func (o *Orchestrator) Ask(ctx context.Context, orgID string, history []llm.Message, query string) (Answer, error) {
	results, err := o.retrieve(ctx, orgID, query)
	if err != nil {
		return Answer{}, err
	}
	if len(results) == 0 {
		res, err := o.gateway.Chat(ctx, "rag_answer", withTurn(history, query))
		if err != nil {
			return Answer{}, err
		}
		return Answer{Answer: res.Text, Documents: []Document{}, Sources: []string{}, Usage: res.Usage}, nil
	}

	docs := toDocuments(results)
	turn := augmentedTurn(query, docs)
	res, err := o.gateway.Chat(ctx, "rag_answer", withTurn(history, turn))
	if err != nil {
		return Answer{}, err
	}
	return Answer{Answer: res.Text, Documents: docs, Sources: uniqueSources(docs), Usage: res.Usage}, nil
}

// Plan is the retrieval outcome for one query: the turn ready to send to
// (G) and the rag_context that will ride the streaming completion frame.
// Computed before generation starts since the streaming transport fixes its
// rag_context payload at call time, before the token source runs.
type Plan struct {
	Turn       string
	RAGContext json.RawMessage
}

// PlanStream runs the retrieval half of the RAG flow: embed, search, and
// decide between the raw query and an augmented turn. Split from the
// generation call so a streaming caller can obtain RAGContext before
// starting the token stream.
func (o *Orchestrator) PlanStream(ctx context.Context, orgID, query string) (Plan, error) {
	results, err := o.retrieve(ctx, orgID, query)
	if err != nil {
		return Plan{}, err
	}

	var turn string
	var docs []Document
	if len(results) == 0 {
		turn = query
	} else {
		docs = toDocuments(results)
		turn = augmentedTurn(query, docs)
	}

	ragCtx, err := json.Marshal(Context{DocumentsUsed: len(docs), Sources: uniqueSources(docs)})
	if err != nil {
		return Plan{}, fmt.Errorf("marshal rag context: %w", err)
	}
	return Plan{Turn: turn, RAGContext: ragCtx}, nil
}

// StreamWithTurn drives the gateway's streaming interface for a turn
// already produced by PlanStream.
func (o *Orchestrator) StreamWithTurn(ctx context.Context, history []llm.Message, turn string, onToken func(string)) (string, llm.Usage, error) {
	res, err := o.gateway.StreamChat(ctx, "rag_answer", withTurn(history, turn), onToken)
	if err != nil {
		return "", llm.Usage{}, err
	}
	return res.Text, res.Usage, nil
}

// AskStream composes PlanStream and StreamWithTurn for callers that don't
// need the rag_context ahead of generation (e.g. direct, non-transport
// callers). Streaming HTTP callers should use PlanStream + StreamWithTurn
// directly so RAGContext can be handed to streaming.Run up front.
func (o *Orchestrator) AskStream(ctx context.Context, orgID string, history []llm.Message, query string, onToken func(string)) (text string, usage llm.Usage, ragContext json.RawMessage, err error) {
	plan, err := o.PlanStream(ctx, orgID, query)
	if err != nil {
		return "", llm.Usage{}, nil, err
	}
	text, usage, err = o.StreamWithTurn(ctx, history, plan.Turn, onToken)
	if err != nil {
		return "", llm.Usage{}, nil, err
	}
	return text, usage, plan.RAGContext, nil
}
