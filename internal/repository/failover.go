package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverTypingRepository prefers the primary (Redis) and falls back to
// memory while it is down, probing the primary again after recoveryInterval.
type FailoverTypingRepository struct {
	primary   domain.TypingRepository
	fallback  domain.TypingRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverTypingRepository(primary, fallback domain.TypingRepository, logger *zerolog.Logger) *FailoverTypingRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverTypingRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverTypingRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary typing repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverTypingRepository) shouldRetry() bool {
	return r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverTypingRepository) SetTyping(ctx context.Context, threadID, role string, typing bool) error {
	if !r.isDown.Load() || r.shouldRetry() {
		err := r.primary.SetTyping(ctx, threadID, role, typing)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("primary typing repository recovered")
			}
			return nil
		}
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		r.markDown(err)
	}

	return r.fallback.SetTyping(ctx, threadID, role, typing)
}

func (r *FailoverTypingRepository) GetTyping(ctx context.Context, threadID string) (models.TypingState, error) {
	if !r.isDown.Load() || r.shouldRetry() {
		state, err := r.primary.GetTyping(ctx, threadID)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("primary typing repository recovered")
			}
			return state, nil
		}
		r.markDown(err)
	}

	return r.fallback.GetTyping(ctx, threadID)
}
