// Package prompts implements the versioned system-prompt registry (spec.md
// §4.L): create/activate/list prompt versions and fold running usage stats
// back in after each call. Backed directly by persistence.Prompts — no
// independent storage, since every operation here is already a typed
// repository method. Authorization (only owner/admin may create or
// activate) is enforced by the caller's request-envelope role check before
// Registry methods are invoked, not here.
package prompts

import (
	"context"

	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/persistence"
)

// Registry resolves and manages versioned prompts, and satisfies
// llm.PromptResolver so it can be wired directly into llm.Gateway.
type Registry struct {
	prompts persistence.Prompts
}

func New(prompts persistence.Prompts) *Registry {
	return &Registry{prompts: prompts}
}

// Active returns the currently active version's id and content for name,
// satisfying llm.PromptResolver.
func (r *Registry) Active(ctx context.Context, name string) (id, content string, err error) {
	p, err := r.prompts.GetActivePrompt(ctx, name)
	if err != nil {
		return "", "", err
	}
	return p.ID, p.Content, nil
}

// RecordStats folds one more observation into the prompt's running usage
// stats, satisfying llm.PromptResolver. The update error is discarded here:
// RecordStats returns nothing, so no caller sees a failed stats update.
func (r *Registry) RecordStats(ctx context.Context, id string, totalTokens int, latencyMS float64) {
	_ = r.prompts.UpdatePromptStats(ctx, id, totalTokens, latencyMS)
}

// GetVersion returns a specific named version.
func (r *Registry) GetVersion(ctx context.Context, name string, version int) (domain.Prompt, error) {
	return r.prompts.GetPromptVersion(ctx, name, version)
}

// ListVersions returns every version of name, newest first.
func (r *Registry) ListVersions(ctx context.Context, name string) ([]domain.Prompt, error) {
	return r.prompts.ListPromptVersions(ctx, name)
}

// Create inserts the next version for name. Per spec.md §4.L, version
// numbering is monotone per name — the persistence layer assigns it.
func (r *Registry) Create(ctx context.Context, name, content, createdBy string, active bool, metadata map[string]string) (domain.Prompt, error) {
	return r.prompts.CreatePrompt(ctx, domain.Prompt{
		Name:      name,
		Content:   content,
		CreatedBy: createdBy,
		Active:    active,
		Metadata:  metadata,
	})
}

// Activate switches name's active version to version, deactivating every
// other version transactionally.
func (r *Registry) Activate(ctx context.Context, name string, version int) (domain.Prompt, error) {
	return r.prompts.ActivatePrompt(ctx, name, version)
}
