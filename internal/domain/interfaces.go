package domain

import (
	"context"
	"time"

	"kajabook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type SlotStore interface {
	CreateSlot(ctx context.Context, slot *models.Slot) error
	GetSlot(ctx context.Context, id string) (*models.Slot, error)
	GetSlotsByIDs(ctx context.Context, ids []string) ([]*models.Slot, error)
	ListSlotsByDateKey(ctx context.Context, dateKey string) ([]*models.Slot, error)
	ListSlotsInRange(ctx context.Context, fromKey, toKey string) ([]*models.Slot, error)
	ListAllSlots(ctx context.Context, limit int) ([]*models.Slot, error)
	PatchSlot(ctx context.Context, id string, patch models.SlotPatch) (*models.Slot, error)
	DeleteSlot(ctx context.Context, id string) error
	InsertSlotsIgnoreDuplicates(ctx context.Context, slots []*models.Slot) (int, error)
}

type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByKey(ctx context.Context, key string) (*models.Booking, error)
	ListBookingsBySlotIDs(ctx context.Context, ids []string) ([]*models.Booking, error)
	ListBookings(ctx context.Context, limit int) ([]*models.Booking, error)
	ListBookingsByStudent(ctx context.Context, studentID string) ([]*models.Booking, error)
	// CancelBooking reports whether this call changed the status.
	CancelBooking(ctx context.Context, id string) (*models.Booking, bool, error)
	UpdateBookingMeeting(ctx context.Context, id string, info models.MeetingInfo) error
}

type ReminderLogStore interface {
	HasReminder(ctx context.Context, bookingID, kind, role string) (bool, error)
	LogReminder(ctx context.Context, entry *models.ReminderLog) error
	ListReminderLogs(ctx context.Context, limit int) ([]*models.ReminderLog, error)
}

type SupportStore interface {
	CreateSupportThread(ctx context.Context, thread *models.SupportThread) error
	GetSupportThread(ctx context.Context, id string) (*models.SupportThread, error)
	FindOpenSupportThreadByEmail(ctx context.Context, email string) (*models.SupportThread, error)
	ListSupportThreads(ctx context.Context, limit int) ([]*models.SupportThread, error)
	AddSupportMessage(ctx context.Context, msg *models.SupportMessage) (*models.SupportThread, error)
	ListSupportMessages(ctx context.Context, threadID string, limit int) ([]*models.SupportMessage, error)
	MarkSupportThreadRead(ctx context.Context, threadID, role string) (*models.SupportThread, error)
	UpdateSupportIdentity(ctx context.Context, threadID string, identity models.SupportIdentity) (*models.SupportThread, error)
}

// ThreadLookup tells whether a support thread exists.
type ThreadLookup interface {
	GetSupportThread(ctx context.Context, id string) (*models.SupportThread, error)
}

type TypingRepository interface {
	SetTyping(ctx context.Context, threadID, role string, typing bool) error
	GetTyping(ctx context.Context, threadID string) (models.TypingState, error)
}

// Locker serializes work on a key across goroutines or processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// MeetingScheduler books a video meeting for a confirmed lesson.
type MeetingScheduler interface {
	ScheduleMeeting(ctx context.Context, booking *models.Booking, slot *models.Slot) (*models.MeetingInfo, error)
	CancelMeeting(ctx context.Context, eventID string) error
}

// Notifier delivers a plain-text message to administrators.
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
