package service

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"kajabook/internal/database"
	"kajabook/internal/domain"
	"kajabook/internal/events"
	"kajabook/internal/models"
	"kajabook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type supportEnv struct {
	svc    *SupportService
	typing *TypingService
	mu     sync.Mutex
	msgs   []events.SupportMessagePayload
}

func newSupportEnv(t *testing.T) *supportEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &supportEnv{}
	bus := events.NewEventBus()
	bus.Subscribe(events.EventSupportMessage, func(e *events.Event) error {
		var p events.SupportMessagePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		env.mu.Lock()
		defer env.mu.Unlock()
		env.msgs = append(env.msgs, p)
		return nil
	})

	env.typing = NewTypingService(repository.NewMemoryTypingRepository(models.TypingTTL), &logger)
	env.typing.SetThreadLookup(db)
	env.svc = NewSupportService(db, env.typing, bus, &logger)
	return env
}

func TestSupportService_StartThread(t *testing.T) {
	env := newSupportEnv(t)
	ctx := context.Background()

	first, created, err := env.svc.StartThread(ctx, models.SupportIdentity{Email: " Jisoo@Example.com ", Name: "Jisoo"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "jisoo@example.com", first.Email)

	again, created, err := env.svc.StartThread(ctx, models.SupportIdentity{Email: "jisoo@example.com"})
	require.NoError(t, err)
	assert.False(t, created, "the open thread of the same email is reused")
	assert.Equal(t, first.ID, again.ID)

	anon1, _, err := env.svc.StartThread(ctx, models.SupportIdentity{})
	require.NoError(t, err)
	anon2, _, err := env.svc.StartThread(ctx, models.SupportIdentity{})
	require.NoError(t, err)
	assert.NotEqual(t, anon1.ID, anon2.ID)

	_, _, err = env.svc.StartThread(ctx, models.SupportIdentity{Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSupportService_Conversation(t *testing.T) {
	env := newSupportEnv(t)
	ctx := context.Background()

	thread, _, err := env.svc.StartThread(ctx, models.SupportIdentity{})
	require.NoError(t, err)

	_, err = env.svc.PostMessage(ctx, thread.ID, models.RoleMember, "  can I move my lesson?  ",
		models.SupportIdentity{Email: "guest@example.com", Name: "Guest"})
	require.NoError(t, err)
	require.NoError(t, env.typing.SetTyping(ctx, thread.ID, models.RoleSupport, true))

	inbox, err := env.svc.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.True(t, inbox[0].Unread)
	assert.Equal(t, "guest@example.com", inbox[0].Email, "identity attached with the message")

	_, err = env.svc.PostMessage(ctx, thread.ID, models.RoleSupport, "sure", models.SupportIdentity{})
	require.NoError(t, err)

	conv, err := env.svc.Conversation(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "can I move my lesson?", conv.Messages[0].Text)
	assert.Equal(t, models.RoleSupport, conv.Messages[1].From)
	assert.True(t, conv.Typing.Support)
	assert.Equal(t, "Guest", conv.Thread.Name)

	inbox, err = env.svc.ListThreads(ctx)
	require.NoError(t, err)
	assert.False(t, inbox[0].Unread, "a reply counts as read")

	env.mu.Lock()
	defer env.mu.Unlock()
	require.Len(t, env.msgs, 2)
	assert.Equal(t, models.RoleMember, env.msgs[0].From)
	assert.Equal(t, "guest@example.com", env.msgs[0].Email)

	_, err = env.svc.Conversation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSupportService_PostMessageValidation(t *testing.T) {
	env := newSupportEnv(t)
	ctx := context.Background()
	thread, _, err := env.svc.StartThread(ctx, models.SupportIdentity{})
	require.NoError(t, err)

	tests := []struct {
		name     string
		threadID string
		from     string
		text     string
		want     error
	}{
		{"Blank", thread.ID, models.RoleMember, "   ", domain.ErrValidation},
		{"TooLong", thread.ID, models.RoleMember, strings.Repeat("a", models.SupportMessageMaxLen+1), domain.ErrValidation},
		{"UnknownRole", thread.ID, "bot", "hi", domain.ErrValidation},
		{"UnknownThread", "missing", models.RoleMember, "hi", domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.PostMessage(ctx, tt.threadID, tt.from, tt.text, models.SupportIdentity{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSupportService_MarkReadAndIdentity(t *testing.T) {
	env := newSupportEnv(t)
	ctx := context.Background()
	thread, _, err := env.svc.StartThread(ctx, models.SupportIdentity{})
	require.NoError(t, err)

	_, err = env.svc.PostMessage(ctx, thread.ID, models.RoleMember, "hello", models.SupportIdentity{})
	require.NoError(t, err)

	read, err := env.svc.MarkRead(ctx, thread.ID, models.RoleSupport)
	require.NoError(t, err)
	assert.False(t, read.UnreadBySupport())

	_, err = env.svc.UpdateIdentity(ctx, thread.ID, models.SupportIdentity{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.svc.UpdateIdentity(ctx, thread.ID, models.SupportIdentity{Email: "Jisoo <jisoo@example.com>"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	updated, err := env.svc.UpdateIdentity(ctx, thread.ID, models.SupportIdentity{Email: "JISOO@example.com", Name: " Jisoo "})
	require.NoError(t, err)
	assert.Equal(t, "jisoo@example.com", updated.Email)
	assert.Equal(t, "Jisoo", updated.Name)
}
