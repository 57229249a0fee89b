package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
	EventBookingReminder  = "booking.reminder"
	EventSlotCreated      = "slot.created"
	EventSlotUpdated      = "slot.updated"
	EventSlotDeleted      = "slot.deleted"
	EventSupportMessage   = "support.message"

	// allEvents subscribes a handler to every event type.
	allEvents = "*"
)

// BookingEventPayload is the booking snapshot handed to event consumers.
type BookingEventPayload struct {
	BookingID   string `json:"bookingId"`
	Code        string `json:"code"`
	SlotID      string `json:"slotId"`
	SlotID2     string `json:"slotId2,omitempty"`
	DateKey     string `json:"dateKey,omitempty"`
	StartMin    int    `json:"startMin,omitempty"`
	DurationMin int    `json:"durationMin"`
	Status      string `json:"status"`
	StudentID   string `json:"studentId,omitempty"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	MeetURL     string `json:"meetUrl,omitempty"`
	ChangedBy   string `json:"changedBy,omitempty"`
}

// ReminderEventPayload asks downstream delivery (push, e-mail) to remind a member.
type ReminderEventPayload struct {
	BookingID string    `json:"bookingId"`
	Kind      string    `json:"kind"`
	Role      string    `json:"role"`
	To        string    `json:"to,omitempty"`
	StartsAt  time.Time `json:"startsAt"`
	MeetURL   string    `json:"meetUrl,omitempty"`
}

// SlotEventPayload describes a slot change made by an administrator.
type SlotEventPayload struct {
	SlotID    string `json:"slotId"`
	DateKey   string `json:"dateKey"`
	StartMin  int    `json:"startMin"`
	EndMin    int    `json:"endMin"`
	Capacity  int    `json:"capacity"`
	Cancelled bool   `json:"cancelled"`
}

// SupportMessagePayload announces a new message on a support thread.
type SupportMessagePayload struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a callback for handler failures.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler that sees every event.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.Subscribe(allEvents, handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[allEvents]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
