package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/events"
	"kajabook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramService pushes admin notifications into Telegram chats.
type TelegramService struct {
	bot     domain.TelegramSender
	chatIDs []int64
	logger  *zerolog.Logger
}

func NewTelegramService(bot domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *TelegramService {
	return &TelegramService{
		bot:     bot,
		chatIDs: chatIDs,
		logger:  logger,
	}
}

func (s *TelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	return s.bot.Send(msg)
}

// NotifyAdmins sends text to every configured admin chat. Delivery goes on
// after a failed chat; the joined error lists every failure.
func (s *TelegramService) NotifyAdmins(ctx context.Context, text string) error {
	if s == nil || s.bot == nil || len(s.chatIDs) == 0 {
		return nil
	}
	var errs []error
	for _, chatID := range s.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.SendMessage(chatID, text); err != nil {
			s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to notify admin")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// FormatBookingNotice renders a one-screen summary of a booking event for admins.
func FormatBookingNotice(title string, p events.BookingEventPayload) string {
	var sb strings.Builder
	sb.WriteString(title)
	if p.DateKey != "" {
		fmt.Fprintf(&sb, "\n%s %s (%d min)", p.DateKey, models.FormatMinutes(p.StartMin), p.DurationMin)
	}
	if p.Name != "" {
		fmt.Fprintf(&sb, "\n%s", p.Name)
		if p.Email != "" {
			fmt.Fprintf(&sb, " <%s>", p.Email)
		}
	}
	fmt.Fprintf(&sb, "\ncode: %s", p.Code)
	if p.MeetURL != "" {
		fmt.Fprintf(&sb, "\n%s", p.MeetURL)
	}
	return sb.String()
}

// FormatSupportNotice renders a member's support message for admins.
func FormatSupportNotice(p events.SupportMessagePayload) string {
	var sb strings.Builder
	sb.WriteString("New support message")
	switch {
	case p.Name != "" && p.Email != "":
		fmt.Fprintf(&sb, " from %s <%s>", p.Name, p.Email)
	case p.Name != "":
		fmt.Fprintf(&sb, " from %s", p.Name)
	case p.Email != "":
		fmt.Fprintf(&sb, " from %s", p.Email)
	}
	fmt.Fprintf(&sb, "\n%s\nthread: %s", p.Text, p.ThreadID)
	return sb.String()
}

// SubscribeAdminNotices forwards booking events and member support messages
// to the admin chats. Delivery runs off the publishing goroutine.
func SubscribeAdminNotices(bus *events.EventBus, notifier domain.Notifier, timeout time.Duration, logger *zerolog.Logger) {
	deliver := func(eventType, text string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := notifier.NotifyAdmins(ctx, text); err != nil {
				logger.Warn().Err(err).Str("event", eventType).Msg("admin notice not delivered")
			}
		}()
	}

	titles := map[string]string{
		events.EventBookingCreated:   "New lesson booked",
		events.EventBookingCancelled: "Lesson cancelled",
	}
	for eventType, title := range titles {
		bus.Subscribe(eventType, func(event *events.Event) error {
			var payload events.BookingEventPayload
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				return err
			}
			deliver(event.Type, FormatBookingNotice(title, payload))
			return nil
		})
	}

	bus.Subscribe(events.EventSupportMessage, func(event *events.Event) error {
		var payload events.SupportMessagePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		// Ответы поддержки админам не пересылаем
		if payload.From != models.RoleMember {
			return nil
		}
		deliver(event.Type, FormatSupportNotice(payload))
		return nil
	})
}
