package models

import "time"

// Booking is a reservation against one slot or two adjacent slots.
type Booking struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	SlotID      string `json:"slotId"`
	SlotID2     string `json:"slotId2,omitempty"`
	DurationMin int    `json:"durationMin"`
	Status      string `json:"status"` // confirmed, cancelled

	StudentID string `json:"studentId,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`

	MeetingProvider  string `json:"meetingProvider,omitempty"`
	MeetURL          string `json:"meetUrl,omitempty"`
	CalendarEventID  string `json:"calendarEventId,omitempty"`
	CalendarHTMLLink string `json:"calendarHtmlLink,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SlotIDs returns the slots the booking references, primary first.
func (b *Booking) SlotIDs() []string {
	if b.SlotID2 == "" || b.SlotID2 == b.SlotID {
		return []string{b.SlotID}
	}
	return []string{b.SlotID, b.SlotID2}
}

// References reports whether the booking points at slotID through either field.
func (b *Booking) References(slotID string) bool {
	return slotID != "" && (b.SlotID == slotID || b.SlotID2 == slotID)
}

func (b *Booking) IsConfirmed() bool {
	return b.Status == StatusConfirmed
}

// BookingDetails is the descriptive pass-through data supplied with a reservation.
type BookingDetails struct {
	StudentID       string `json:"studentId,omitempty"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	Notes           string `json:"notes,omitempty"`
	MeetingProvider string `json:"meetingProvider,omitempty"`
}

// MeetingInfo is what the meeting scheduler returns for a booked lesson.
type MeetingInfo struct {
	Provider string `json:"provider"`
	MeetURL  string `json:"meetUrl"`
	EventID  string `json:"eventId"`
	HTMLLink string `json:"htmlLink"`
}
