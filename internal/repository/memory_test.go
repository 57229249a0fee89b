package repository

import (
	"context"
	"testing"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTypingRepository(t *testing.T) {
	repo := NewMemoryTypingRepository(4500 * time.Millisecond)
	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, repo.SetTyping(ctx, "thread-1", models.RoleMember, true))

		state, err := repo.GetTyping(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, models.TypingState{Member: true}, state)

		require.NoError(t, repo.SetTyping(ctx, "thread-1", models.RoleSupport, true))
		state, err = repo.GetTyping(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, models.TypingState{Member: true, Support: true}, state)
	})

	t.Run("ExpiresPerRole", func(t *testing.T) {
		clock = clock.Add(3 * time.Second)
		require.NoError(t, repo.SetTyping(ctx, "thread-1", models.RoleSupport, true))

		clock = clock.Add(2 * time.Second)
		state, err := repo.GetTyping(ctx, "thread-1")
		require.NoError(t, err)
		assert.False(t, state.Member)
		assert.True(t, state.Support)
	})

	t.Run("SweptWhenBothExpire", func(t *testing.T) {
		require.NoError(t, repo.SetTyping(ctx, "thread-2", models.RoleMember, true))
		assert.Equal(t, 2, repo.Len())

		clock = clock.Add(5 * time.Second)
		state, err := repo.GetTyping(ctx, "thread-other")
		require.NoError(t, err)
		assert.Equal(t, models.TypingState{}, state)
		assert.Equal(t, 0, repo.Len())
	})

	t.Run("StopTyping", func(t *testing.T) {
		require.NoError(t, repo.SetTyping(ctx, "thread-3", models.RoleMember, true))
		require.NoError(t, repo.SetTyping(ctx, "thread-3", models.RoleMember, false))

		state, err := repo.GetTyping(ctx, "thread-3")
		require.NoError(t, err)
		assert.False(t, state.Member)
		assert.Equal(t, 0, repo.Len())
	})

	t.Run("Validation", func(t *testing.T) {
		assert.ErrorIs(t, repo.SetTyping(ctx, "", models.RoleMember, true), domain.ErrValidation)
		assert.ErrorIs(t, repo.SetTyping(ctx, "t", "admin", true), domain.ErrValidation)
	})
}
