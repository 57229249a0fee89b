package api

import (
	"errors"
	"net/http"
	"strings"

	"kajabook/internal/auth"
	"kajabook/internal/config"
)

// Admin permissions. A key with an empty permission list may do everything.
const (
	permReadSlots     = "read:slots"
	permWriteSlots    = "write:slots"
	permReadBookings  = "read:bookings"
	permWriteBookings = "write:bookings"
	permRunReminders  = "run:reminders"
	permSupportTyping = "support:typing"
	permReadSupport   = "read:support"
	permWriteSupport  = "write:support"
)

const adminPathPrefix = "/api/v1/admin/"

// HTTPAuth guards the admin routes with API keys and rate-limits every caller.
// Public routes pass through the limiter only.
type HTTPAuth struct {
	enabled bool
	keys    *keyring
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		enabled: cfg.Auth.Enabled,
		keys:    newKeyring(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.enabled && strings.HasPrefix(r.URL.Path, adminPathPrefix) {
			_, err := a.keys.verify(
				r.Header.Get(a.keys.apiKeyHeader),
				r.Header.Get(a.keys.extraHeader),
				requiredPermissionHTTP(r),
			)
			switch {
			case errors.Is(err, errPermissionDenied):
				writeError(w, http.StatusForbidden, codeForbidden, err.Error())
				return
			case err != nil:
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	rest := strings.TrimPrefix(r.URL.Path, adminPathPrefix)
	write := r.Method != http.MethodGet && r.Method != http.MethodHead

	switch {
	case strings.HasPrefix(rest, "slots"):
		if write {
			return permWriteSlots
		}
		return permReadSlots
	case strings.HasPrefix(rest, "day"):
		return permReadSlots
	case strings.HasPrefix(rest, "bookings"):
		if write {
			return permWriteBookings
		}
		return permReadBookings
	case strings.HasPrefix(rest, "reminders"):
		if write {
			return permRunReminders
		}
		return permReadBookings
	case strings.HasPrefix(rest, "support"):
		if strings.HasSuffix(rest, "/typing") {
			return permSupportTyping
		}
		if write {
			return permWriteSupport
		}
		return permReadSupport
	}
	return ""
}

// clientKey is the API key when present, otherwise the signed-in member,
// otherwise the remote host.
func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader)); apiKey != "" {
		return "key:" + apiKey
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return "member:" + p.ID
	}
	return "host:" + remoteHost(r)
}
