package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"kajabook/internal/domain"
	"kajabook/internal/export"
	"kajabook/internal/models"
	"kajabook/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type createSlotBody struct {
	DateKey  string `json:"dateKey"`
	StartMin int    `json:"startMin"`
	EndMin   int    `json:"endMin"`
	Capacity int    `json:"capacity"`
	Notes    string `json:"notes"`
}

// dayView groups a day's slots with their bookings.
type dayView struct {
	DateKey string                    `json:"dateKey"`
	Slots   []models.SlotAvailability `json:"slots"`
}

// GET /api/v1/admin/slots?dateKey=
func (s *HTTPServer) handleAdminListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.svc.Slots.ListSlots(r.Context(), strings.TrimSpace(r.URL.Query().Get("dateKey")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, slots)
}

func (s *HTTPServer) handleAdminCreateSlot(w http.ResponseWriter, r *http.Request) {
	var body createSlotBody
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Capacity == 0 {
		body.Capacity = 1
	}
	if body.EndMin == 0 {
		body.EndMin = body.StartMin + models.LessonMin
	}

	slot := &models.Slot{
		DateKey:  strings.TrimSpace(body.DateKey),
		StartMin: body.StartMin,
		EndMin:   body.EndMin,
		Capacity: body.Capacity,
		Notes:    body.Notes,
	}
	if err := s.svc.Slots.CreateSlot(r.Context(), slot); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, slot)
}

func (s *HTTPServer) handleAdminGetSlot(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Reservations.Availability(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAdminPatchSlot(w http.ResponseWriter, r *http.Request) {
	var patch models.SlotPatch
	if err := decodeLenientJSON(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	slot, err := s.svc.Slots.PatchSlot(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, slot)
}

func (s *HTTPServer) handleAdminDeleteSlot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Slots.DeleteSlot(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"id": id})
}

// POST /api/v1/admin/slots/generate
func (s *HTTPServer) handleAdminGenerateSlots(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.Slots.GenerateSlots(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

// GET /api/v1/admin/day?dateKey=
func (s *HTTPServer) handleAdminDay(w http.ResponseWriter, r *http.Request) {
	dateKey := strings.TrimSpace(r.URL.Query().Get("dateKey"))
	views, err := s.svc.Reservations.DayView(r.Context(), dateKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, dayView{DateKey: dateKey, Slots: views})
}

// GET /api/v1/admin/bookings?limit=
func (s *HTTPServer) handleAdminListBookings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	bookings, err := s.svc.Reservations.ListBookings(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, bookings)
}

func (s *HTTPServer) handleAdminGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.Reservations.GetBookingByKey(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.Reservations.CancelReservation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, booking)
}

// GET /api/v1/admin/bookings/export?from=&to= streams the schedule workbook.
func (s *HTTPServer) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	if s.svc.Exporter == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "export is not configured")
		return
	}
	q := r.URL.Query()
	from := strings.TrimSpace(q.Get("from"))
	to := strings.TrimSpace(q.Get("to"))
	if to == "" {
		to = from
	}

	views, err := s.svc.Reservations.RangeView(r.Context(), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Render fully before the headers go out so a failure is still a JSON error.
	var buf bytes.Buffer
	if err := s.svc.Exporter.WriteSchedule(&buf, from, to, views); err != nil {
		s.fail(w, r, domain.Storage("export schedule", err))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// GET /api/v1/admin/reminders/history?limit=
func (s *HTTPServer) handleAdminReminderHistory(w http.ResponseWriter, r *http.Request) {
	if s.svc.ReminderLogs == nil {
		writeOK(w, http.StatusOK, []*models.ReminderLog{})
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.svc.ReminderLogs.ListReminderLogs(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, logs)
}

// POST /api/v1/admin/reminders/run triggers one reminder pass now.
func (s *HTTPServer) handleAdminRunReminders(w http.ResponseWriter, r *http.Request) {
	if s.svc.Reminders == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "reminders are disabled")
		return
	}
	res, err := s.svc.Reminders.RunOnce(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}
