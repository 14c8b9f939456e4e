// Package request resolves the tenant-scoped request envelope (spec.md
// §4.E): correlation id assignment, identity lookup, tenant validation, and
// context propagation. The context-key attach/extract idiom is grounded on
// the pack's auth.WithUser/auth.CurrentUser pattern.
package request

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kestrel-ai/chatplane/internal/apierr"
	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/persistence"
)

const (
	HeaderRequestID = "x-request-id"
	HeaderOrgID     = "x-org-id"
	HeaderUserID    = "x-user-id"
)

// Envelope is the resolved identity attached to every request's context.
type Envelope struct {
	CorrelationID string
	OrgID         string
	UserID        string
	Role          domain.Role
	Email         string

	// Anonymous is true for public endpoints where no identity headers
	// were supplied or they didn't resolve to a valid user.
	Anonymous bool
}

type contextKey string

const envelopeContextKey contextKey = "chatplane.envelope"

// WithEnvelope returns a new context carrying env.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeContextKey, env)
}

// FromContext extracts the Envelope attached by WithEnvelope.
func FromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeContextKey).(Envelope)
	return env, ok
}

// correlationID takes the client-supplied x-request-id if present, else
// generates a fresh one.
func correlationID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// ResolvePublic implements spec.md §4.E step 3: identity is optional on
// public endpoints. If both headers are present and resolve to a valid
// user, the derived identity is attached; otherwise the request proceeds
// anonymously. ResolvePublic never returns an error.
func ResolvePublic(ctx context.Context, repo persistence.Users, r *http.Request) Envelope {
	cid := correlationID(r)
	orgID := r.Header.Get(HeaderOrgID)
	userID := r.Header.Get(HeaderUserID)
	if orgID == "" || userID == "" {
		return Envelope{CorrelationID: cid, Anonymous: true}
	}
	env, err := resolveIdentity(ctx, repo, cid, orgID, userID)
	if err != nil {
		return Envelope{CorrelationID: cid, Anonymous: true}
	}
	return env
}

// Resolve implements spec.md §4.E steps 1-6 for protected endpoints: both
// headers are required, the user must exist, and its organization must
// match the org header.
func Resolve(ctx context.Context, repo persistence.Users, r *http.Request) (Envelope, error) {
	cid := correlationID(r)
	orgID := r.Header.Get(HeaderOrgID)
	userID := r.Header.Get(HeaderUserID)
	if orgID == "" || userID == "" {
		return Envelope{}, apierr.Unauthenticated("missing x-org-id or x-user-id", nil).WithCorrelationID(cid)
	}
	env, err := resolveIdentity(ctx, repo, cid, orgID, userID)
	if err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func resolveIdentity(ctx context.Context, repo persistence.Users, correlationID, orgID, userID string) (Envelope, error) {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		if err == persistence.ErrNotFound {
			return Envelope{}, apierr.Unauthenticated("unknown user", err).WithCorrelationID(correlationID)
		}
		return Envelope{}, apierr.Internal("lookup user", err).WithCorrelationID(correlationID)
	}
	if user.OrgID != orgID {
		return Envelope{}, apierr.Forbidden("user does not belong to organization", nil).WithCorrelationID(correlationID)
	}
	return Envelope{
		CorrelationID: correlationID,
		OrgID:         orgID,
		UserID:        userID,
		Role:          user.Role,
		Email:         user.Email,
	}, nil
}

// RequireRole returns a Forbidden error if env's role is below min; a role
// equal to min passes.
func RequireRole(env Envelope, min domain.Role) error {
	if !env.Role.AtLeast(min) {
		return apierr.Forbidden("insufficient role", nil).WithCorrelationID(env.CorrelationID)
	}
	return nil
}
