package api

import (
	"errors"
	"net/http"
	"strings"

	"kajabook/internal/auth"
	"kajabook/internal/domain"
	"kajabook/internal/models"
	"kajabook/internal/service"
)

type reserveBody struct {
	SlotID          string `json:"slotId"`
	SlotID2         string `json:"slotId2"`
	DurationMin     int    `json:"durationMin"`
	StudentID       string `json:"studentId"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Notes           string `json:"notes"`
	MeetingProvider string `json:"meetingProvider"`
}

// bookingSummary is what a direct link reveals about a booking. The id is
// left out since it is not a secret once shared.
type bookingSummary struct {
	Code        string `json:"code"`
	Status      string `json:"status"`
	DurationMin int    `json:"durationMin"`
	DateKey     string `json:"dateKey,omitempty"`
	StartLabel  string `json:"startTimeLabel,omitempty"`
	EndLabel    string `json:"endTimeLabel,omitempty"`
	MeetURL     string `json:"meetUrl,omitempty"`
}

// cancelBody proves ownership of a booking made without signing in.
type cancelBody struct {
	Email string `json:"email"`
}

// GET /api/v1/slots?dateKey= or ?from=&to=
func (s *HTTPServer) handlePublicSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := strings.TrimSpace(q.Get("dateKey"))
	to := ""
	if from == "" {
		from = strings.TrimSpace(q.Get("from"))
		to = strings.TrimSpace(q.Get("to"))
	}
	if from == "" && to != "" {
		s.fail(w, r, domain.Validationf("from is required with to"))
		return
	}

	views, err := s.svc.Slots.ListPublicSlots(r.Context(), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, views)
}

// POST /api/v1/bookings
func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	var body reserveBody
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	details := models.BookingDetails{
		Name:            body.Name,
		Email:           strings.ToLower(strings.TrimSpace(body.Email)),
		Phone:           body.Phone,
		Notes:           body.Notes,
		MeetingProvider: body.MeetingProvider,
	}
	// The student id is taken from the session only.
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		details.StudentID = p.ID
		if strings.TrimSpace(details.Name) == "" {
			details.Name = p.Name
		}
	}
	if strings.TrimSpace(details.Name) == "" {
		s.fail(w, r, domain.Validationf("name is required"))
		return
	}

	booking, err := s.svc.Reservations.Reserve(r.Context(), service.ReserveRequest{
		SlotID:      body.SlotID,
		SlotID2:     body.SlotID2,
		DurationMin: body.DurationMin,
		Details:     details,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, booking)
}

// GET /api/v1/bookings/{key} resolves an id or a public code.
func (s *HTTPServer) handleGetBookingByKey(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.Reservations.GetBookingByKey(r.Context(), strings.TrimSpace(r.PathValue("key")))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	summary := bookingSummary{
		Code:        booking.Code,
		Status:      booking.Status,
		DurationMin: booking.DurationMin,
		MeetURL:     booking.MeetURL,
	}
	slot, err := s.svc.Slots.GetSlot(r.Context(), booking.SlotID)
	switch {
	case err == nil:
		summary.DateKey = slot.DateKey
		summary.StartLabel = models.FormatMinutes(slot.StartMin)
		summary.EndLabel = models.FormatMinutes(slot.StartMin + booking.DurationMin)
	case !errors.Is(err, domain.ErrNotFound):
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, summary)
}

// POST /api/v1/bookings/{id}/cancel with an optional {"email"} body.
func (s *HTTPServer) handleCancelOwn(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := decodeLenientJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	studentID := ""
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		studentID = p.ID
	}
	booking, err := s.svc.Reservations.CancelForStudent(r.Context(), r.PathValue("id"), studentID, body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, booking)
}

// GET /api/v1/bookings lists the signed-in member's bookings.
func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "sign in required")
		return
	}
	if want := strings.TrimSpace(r.URL.Query().Get("studentId")); want != "" && want != p.ID {
		writeError(w, http.StatusForbidden, codeForbidden, "bookings of another member")
		return
	}

	bookings, err := s.svc.Reservations.ListBookingsByStudent(r.Context(), p.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, bookings)
}
