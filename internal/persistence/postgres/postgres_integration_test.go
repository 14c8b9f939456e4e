package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kestrel-ai/chatplane/internal/domain"
	"github.com/kestrel-ai/chatplane/internal/persistence"
)

// newTestStore starts a disposable Postgres container, applies the embedded
// migrations through the real Store.New path, and seeds one organization and
// one user directly (this package exposes no CreateOrganization/CreateUser —
// spec.md's multi-tenant model provisions those out of band).
func newTestStore(t *testing.T) (*Store, domain.Organization, domain.User) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("chatplane_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	org := domain.Organization{ID: uuid.NewString(), Name: "Acme", Slug: "acme-" + uuid.NewString()}
	_, err = store.pool.Exec(ctx, `INSERT INTO organizations (id, name, slug) VALUES ($1, $2, $3)`, org.ID, org.Name, org.Slug)
	require.NoError(t, err)

	user := domain.User{ID: uuid.NewString(), OrgID: org.ID, Email: "owner@acme.test", DisplayName: "Owner", Role: domain.RoleOwner}
	_, err = store.pool.Exec(ctx, `INSERT INTO users (id, org_id, email, display_name, role) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.OrgID, user.Email, user.DisplayName, user.Role.String())
	require.NoError(t, err)

	return store, org, user
}

func TestStore_ChatMessageRoundTrip(t *testing.T) {
	store, org, user := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, org.ID, user.ID, "What's our refund policy?")
	require.NoError(t, err)
	require.Equal(t, org.ID, chat.OrgID)

	got, err := store.GetChat(ctx, org.ID, chat.ID)
	require.NoError(t, err)
	require.Equal(t, chat.Title, got.Title)

	msg, err := store.AppendMessage(ctx, org.ID, domain.Message{
		ChatID:  chat.ID,
		Role:    domain.MessageRoleUser,
		Content: "What's our refund policy?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	msgs, err := store.ListMessages(ctx, org.ID, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "What's our refund policy?", msgs[0].Content)

	// A chat id from a different org must not be visible.
	_, err = store.GetChat(ctx, "some-other-org", chat.ID)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStore_SummaryAndPromptLifecycle(t *testing.T) {
	store, org, user := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, org.ID, user.ID, "Long-running support thread")
	require.NoError(t, err)

	first, err := store.AppendMessage(ctx, org.ID, domain.Message{ChatID: chat.ID, Role: domain.MessageRoleUser, Content: "hello"})
	require.NoError(t, err)
	last, err := store.AppendMessage(ctx, org.ID, domain.Message{ChatID: chat.ID, Role: domain.MessageRoleAssistant, Content: "hi there"})
	require.NoError(t, err)

	sm, err := store.CreateSummary(ctx, org.ID, domain.Summary{
		ChatID:           chat.ID,
		Text:             "User greeted support; agent replied.",
		StartMessageID:   first.ID,
		EndMessageID:     last.ID,
		MessageCount:     2,
		OriginalTokens:   40,
		SummaryTokens:    10,
		CompressionRatio: 0.25,
	})
	require.NoError(t, err)

	latest, err := store.LatestSummary(ctx, org.ID, chat.ID)
	require.NoError(t, err)
	require.Equal(t, sm.ID, latest.ID)

	p, err := store.CreatePrompt(ctx, domain.Prompt{Name: "chat_system", Version: 1, Content: "Be concise.", CreatedBy: user.ID})
	require.NoError(t, err)

	active, err := store.ActivatePrompt(ctx, p.Name, p.Version)
	require.NoError(t, err)
	require.True(t, active.Active)

	got, err := store.GetActivePrompt(ctx, p.Name)
	require.NoError(t, err)
	require.Equal(t, p.Version, got.Version)
}
