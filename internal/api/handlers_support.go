package api

import (
	"net/http"

	"kajabook/internal/auth"
	"kajabook/internal/models"
)

type typingBody struct {
	Typing bool `json:"typing"`
}

type threadBody struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type supportMessageBody struct {
	Text  string `json:"text"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// POST /api/v1/support/threads opens a thread, or returns the open one of the same email.
func (s *HTTPServer) handleStartThread(w http.ResponseWriter, r *http.Request) {
	var body threadBody
	if err := decodeLenientJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	identity := models.SupportIdentity{Email: body.Email, Name: body.Name}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && identity.Name == "" {
		identity.Name = p.Name
	}

	thread, created, err := s.svc.Support.StartThread(r.Context(), identity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeOK(w, status, thread)
}

// GET .../support/threads/{id}
func (s *HTTPServer) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Support.Conversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, conv)
}

// POST .../support/threads/{id}/messages; the sender comes from the route.
func (s *HTTPServer) handlePostMessage(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body supportMessageBody
		if err := decodeJSON(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		msg, err := s.svc.Support.PostMessage(r.Context(), r.PathValue("id"), role, body.Text,
			models.SupportIdentity{Email: body.Email, Name: body.Name})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeOK(w, http.StatusCreated, msg)
	}
}

// POST .../support/threads/{id}/read
func (s *HTTPServer) handleMarkRead(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		thread, err := s.svc.Support.MarkRead(r.Context(), r.PathValue("id"), role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, thread)
	}
}

// POST /api/v1/support/threads/{id}/identity
func (s *HTTPServer) handleThreadIdentity(w http.ResponseWriter, r *http.Request) {
	var body threadBody
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	thread, err := s.svc.Support.UpdateIdentity(r.Context(), r.PathValue("id"),
		models.SupportIdentity{Email: body.Email, Name: body.Name})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, thread)
}

// GET /api/v1/admin/support/threads
func (s *HTTPServer) handleAdminListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.svc.Support.ListThreads(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, threads)
}

// GET .../support/threads/{id}/typing
func (s *HTTPServer) handleGetTyping(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.Typing.GetTyping(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, state)
}

// POST .../support/threads/{id}/typing; the role comes from the route.
func (s *HTTPServer) handleSetTyping(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body typingBody
		if err := decodeJSON(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		threadID := r.PathValue("id")
		if err := s.svc.Typing.SetTyping(r.Context(), threadID, role, body.Typing); err != nil {
			s.fail(w, r, err)
			return
		}
		state, err := s.svc.Typing.GetTyping(r.Context(), threadID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, state)
	}
}
