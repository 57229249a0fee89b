package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"kajabook/internal/domain"
	"kajabook/internal/events"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
)

const maxIdentityNameLen = 200

// SupportService runs the support desk: visitors open threads and write in,
// support staff answer from the inbox.
type SupportService struct {
	store    domain.SupportStore
	typing   *TypingService
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewSupportService(store domain.SupportStore, typing *TypingService, eventBus domain.EventPublisher, logger *zerolog.Logger) *SupportService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SupportService{store: store, typing: typing, eventBus: eventBus, logger: logger}
}

// StartThread reuses the open thread of the same email, otherwise opens a new
// one. created reports which of the two happened.
func (s *SupportService) StartThread(ctx context.Context, identity models.SupportIdentity) (thread *models.SupportThread, created bool, err error) {
	identity, err = normalizeIdentity(identity)
	if err != nil {
		return nil, false, err
	}
	if identity.Email != "" {
		existing, err := s.store.FindOpenSupportThreadByEmail(ctx, identity.Email)
		switch {
		case err == nil:
			return existing, false, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, false, err
		}
	}

	thread = &models.SupportThread{Email: identity.Email, Name: identity.Name}
	if err := s.store.CreateSupportThread(ctx, thread); err != nil {
		return nil, false, err
	}
	s.logger.Info().Str("thread_id", thread.ID).Msg("support thread opened")
	return thread, true, nil
}

func (s *SupportService) GetThread(ctx context.Context, id string) (*models.SupportThread, error) {
	return s.store.GetSupportThread(ctx, strings.TrimSpace(id))
}

// Conversation loads a thread with its messages and typing flags.
func (s *SupportService) Conversation(ctx context.Context, id string) (*models.SupportConversation, error) {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListSupportMessages(ctx, thread.ID, models.SupportListLimit)
	if err != nil {
		return nil, err
	}
	conv := &models.SupportConversation{Thread: thread, Messages: messages}
	if s.typing != nil {
		if conv.Typing, err = s.typing.GetTyping(ctx, thread.ID); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

// ListThreads is the support inbox, most recently active first.
func (s *SupportService) ListThreads(ctx context.Context) ([]models.SupportThreadSummary, error) {
	threads, err := s.store.ListSupportThreads(ctx, models.SupportListLimit)
	if err != nil {
		return nil, err
	}
	out := make([]models.SupportThreadSummary, 0, len(threads))
	for _, t := range threads {
		out = append(out, models.SupportThreadSummary{SupportThread: t, Unread: t.UnreadBySupport()})
	}
	return out, nil
}

// PostMessage appends a message from the given side. A member may attach
// who they are in the same call.
func (s *SupportService) PostMessage(ctx context.Context, threadID, from, text string, identity models.SupportIdentity) (*models.SupportMessage, error) {
	if !models.IsValidRole(from) {
		return nil, domain.Validationf("unknown role %q", from)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Validationf("text is required")
	}
	if utf8.RuneCountInString(text) > models.SupportMessageMaxLen {
		return nil, domain.Validationf("text is longer than %d characters", models.SupportMessageMaxLen)
	}
	if from == models.RoleMember && (identity.Email != "" || identity.Name != "") {
		if _, err := s.UpdateIdentity(ctx, threadID, identity); err != nil {
			return nil, err
		}
	}

	msg := &models.SupportMessage{ThreadID: strings.TrimSpace(threadID), From: from, Text: text}
	thread, err := s.store.AddSupportMessage(ctx, msg)
	if err != nil {
		if !domain.IsExpected(err) {
			s.logger.Error().Err(err).Str("thread_id", threadID).Msg("failed to store support message")
		}
		return nil, err
	}
	s.publishMessage(thread, msg)
	return msg, nil
}

func (s *SupportService) MarkRead(ctx context.Context, threadID, role string) (*models.SupportThread, error) {
	return s.store.MarkSupportThreadRead(ctx, strings.TrimSpace(threadID), role)
}

func (s *SupportService) UpdateIdentity(ctx context.Context, threadID string, identity models.SupportIdentity) (*models.SupportThread, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	if identity.Email == "" && identity.Name == "" {
		return nil, domain.Validationf("email or name is required")
	}
	return s.store.UpdateSupportIdentity(ctx, strings.TrimSpace(threadID), identity)
}

func normalizeIdentity(identity models.SupportIdentity) (models.SupportIdentity, error) {
	identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))
	identity.Name = strings.TrimSpace(identity.Name)
	if identity.Email != "" {
		addr, err := mail.ParseAddress(identity.Email)
		if err != nil || addr.Address != identity.Email {
			return identity, domain.Validationf("invalid email %q", identity.Email)
		}
	}
	if utf8.RuneCountInString(identity.Name) > maxIdentityNameLen {
		return identity, domain.Validationf("name is longer than %d characters", maxIdentityNameLen)
	}
	return identity, nil
}

func (s *SupportService) publishMessage(thread *models.SupportThread, msg *models.SupportMessage) {
	if s.eventBus == nil {
		return
	}
	payload := events.SupportMessagePayload{
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		From:      msg.From,
		Text:      msg.Text,
		Email:     thread.Email,
		Name:      thread.Name,
	}
	if err := s.eventBus.PublishJSON(events.EventSupportMessage, payload); err != nil {
		s.logger.Error().Err(err).Str("thread_id", msg.ThreadID).Msg("failed to publish support message")
	}
}
