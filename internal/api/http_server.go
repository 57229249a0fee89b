package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"kajabook/internal/auth"
	"kajabook/internal/config"
	"kajabook/internal/domain"
	"kajabook/internal/export"
	"kajabook/internal/metrics"
	"kajabook/internal/models"
	"kajabook/internal/service"
	"kajabook/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Services are the application services the HTTP API exposes.
type Services struct {
	Slots        *service.SlotService
	Reservations *service.ReservationService
	Typing       *service.TypingService
	Support      *service.SupportService
	Reminders    *worker.ReminderWorker // nil when reminders are disabled
	ReminderLogs domain.ReminderLogStore
	Exporter     *export.Exporter
	Sessions     *auth.SessionVerifier
	// Ready reports whether storage is reachable.
	Ready func(ctx context.Context) error
}

// HTTPServer serves the member-facing and admin JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	server *http.Server
	auth   *HTTPAuth
	mux    *http.ServeMux
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:  cfg,
		svc:  svc,
		auth: NewHTTPAuth(cfg),
		mux:  http.NewServeMux(),
		log:  log,
	}
	srv.routes()

	handler := srv.recoverMiddleware(srv.loggingMiddleware(srv.sessionMiddleware(srv.auth.Wrap(srv.mux))))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() {
	s.handle("GET /healthz", s.handleHealth)
	s.handle("GET /readyz", s.handleReady)

	s.handle("GET /api/v1/slots", s.handlePublicSlots)
	s.handle("POST /api/v1/bookings", s.handleReserve)
	s.handle("GET /api/v1/bookings", s.handleMyBookings)
	s.handle("GET /api/v1/bookings/{key}", s.handleGetBookingByKey)
	s.handle("POST /api/v1/bookings/{id}/cancel", s.handleCancelOwn)
	s.handle("POST /api/v1/support/threads", s.handleStartThread)
	s.handle("GET /api/v1/support/threads/{id}", s.handleGetConversation)
	s.handle("POST /api/v1/support/threads/{id}/messages", s.handlePostMessage(models.RoleMember))
	s.handle("POST /api/v1/support/threads/{id}/read", s.handleMarkRead(models.RoleMember))
	s.handle("POST /api/v1/support/threads/{id}/identity", s.handleThreadIdentity)
	s.handle("GET /api/v1/support/threads/{id}/typing", s.handleGetTyping)
	s.handle("POST /api/v1/support/threads/{id}/typing", s.handleSetTyping(models.RoleMember))

	s.handle("GET /api/v1/admin/slots", s.handleAdminListSlots)
	s.handle("POST /api/v1/admin/slots", s.handleAdminCreateSlot)
	s.handle("POST /api/v1/admin/slots/generate", s.handleAdminGenerateSlots)
	s.handle("GET /api/v1/admin/slots/{id}", s.handleAdminGetSlot)
	s.handle("PATCH /api/v1/admin/slots/{id}", s.handleAdminPatchSlot)
	s.handle("DELETE /api/v1/admin/slots/{id}", s.handleAdminDeleteSlot)
	s.handle("GET /api/v1/admin/day", s.handleAdminDay)
	s.handle("GET /api/v1/admin/bookings", s.handleAdminListBookings)
	s.handle("GET /api/v1/admin/bookings/export", s.handleAdminExport)
	s.handle("GET /api/v1/admin/bookings/{id}", s.handleAdminGetBooking)
	s.handle("POST /api/v1/admin/bookings/{id}/cancel", s.handleAdminCancel)
	s.handle("GET /api/v1/admin/reminders/history", s.handleAdminReminderHistory)
	s.handle("POST /api/v1/admin/reminders/run", s.handleAdminRunReminders)
	s.handle("GET /api/v1/admin/support/threads", s.handleAdminListThreads)
	s.handle("GET /api/v1/admin/support/threads/{id}", s.handleGetConversation)
	s.handle("POST /api/v1/admin/support/threads/{id}/messages", s.handlePostMessage(models.RoleSupport))
	s.handle("POST /api/v1/admin/support/threads/{id}/read", s.handleMarkRead(models.RoleSupport))
	s.handle("GET /api/v1/admin/support/threads/{id}/typing", s.handleGetTyping)
	s.handle("POST /api/v1/admin/support/threads/{id}/typing", s.handleSetTyping(models.RoleSupport))
}

// handle registers h and records its pattern for access logs and metrics.
func (s *HTTPServer) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			info.route = pattern
		}
		h(w, r)
	})
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready != nil {
		if err := s.svc.Ready(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, codeStorage, "storage unavailable")
			return
		}
	}
	writeOK(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestInfoKey struct{}

type requestInfo struct {
	id    string
	route string
}

func requestIDFrom(ctx context.Context) string {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info.id
	}
	return ""
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		info := &requestInfo{id: id, route: "unmatched"}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))
		dur := time.Since(start)

		metrics.IncHTTP(info.route, recorder.status)

		ev := s.log.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", info.route).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

// sessionMiddleware attaches the signed-in member, if any, to the context.
// A missing or broken session is not an error here; handlers decide.
func (s *HTTPServer) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.svc.Sessions.Enabled() {
			if p, err := s.svc.Sessions.FromRequest(r); err == nil {
				r = r.WithContext(auth.WithPrincipal(r.Context(), p))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic in http handler")
				writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// fail writes err and logs it when it is not a caller mistake.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !domain.IsExpected(err) {
		s.log.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeDomainError(w, err)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
