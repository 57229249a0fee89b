package service

import (
	"context"

	"kajabook/internal/domain"
	"kajabook/internal/metrics"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
)

// TypingService tracks "is typing" flags on support threads.
type TypingService struct {
	typingRepo domain.TypingRepository
	threads    domain.ThreadLookup
	logger     *zerolog.Logger
}

func NewTypingService(typingRepo domain.TypingRepository, logger *zerolog.Logger) *TypingService {
	return &TypingService{
		typingRepo: typingRepo,
		logger:     logger,
	}
}

// SetThreadLookup makes unknown threads fail with ErrNotFound.
func (s *TypingService) SetThreadLookup(threads domain.ThreadLookup) {
	s.threads = threads
}

func (s *TypingService) threadExists(ctx context.Context, threadID string) error {
	if s.threads == nil {
		return nil
	}
	_, err := s.threads.GetSupportThread(ctx, threadID)
	return err
}

func (s *TypingService) SetTyping(ctx context.Context, threadID, role string, typing bool) error {
	if err := s.threadExists(ctx, threadID); err != nil {
		return err
	}
	if err := s.typingRepo.SetTyping(ctx, threadID, role, typing); err != nil {
		if !domain.IsExpected(err) {
			s.logger.Error().Err(err).Str("thread_id", threadID).Str("role", role).Msg("failed to set typing state")
		}
		return err
	}
	metrics.IncTyping(role)
	return nil
}

// GetTyping never fails on storage errors: presence is best effort, so the
// caller sees "nobody typing" instead.
func (s *TypingService) GetTyping(ctx context.Context, threadID string) (models.TypingState, error) {
	if err := s.threadExists(ctx, threadID); err != nil {
		if domain.IsExpected(err) {
			return models.TypingState{}, err
		}
		s.logger.Warn().Err(err).Str("thread_id", threadID).Msg("failed to look up support thread")
		return models.TypingState{}, nil
	}
	state, err := s.typingRepo.GetTyping(ctx, threadID)
	if err != nil {
		if domain.IsExpected(err) {
			return models.TypingState{}, err
		}
		s.logger.Warn().Err(err).Str("thread_id", threadID).Msg("failed to get typing state")
		return models.TypingState{}, nil
	}
	return state, nil
}
