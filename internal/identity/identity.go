// Package identity resolves the anonymous device a request comes from and the
// planning session it claims to be working on.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/goalpath/internal/domain"
)

const (
	AnonCookieName    = "goalpath_anon_id"
	SessionHeaderName = "X-Goalpath-Session-ID"

	anonPrefix       = "anon_"
	anonIDHexLen     = 32
	anonCookieMaxAge = 365 * 24 * time.Hour
)

// Users is the slice of the repository the middleware needs.
type Users interface {
	EnsureUser(ctx context.Context, userID string) (*domain.User, error)
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Caller is who a request is from.
type Caller struct {
	UserID    string
	Username  string
	SessionID string // "" when the client named no session
}

type callerKey struct{}

func callerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string { return callerFrom(ctx).UserID }

// UsernameFromContext extracts the display name from the request context.
func UsernameFromContext(ctx context.Context) string { return callerFrom(ctx).Username }

// SessionIDFromContext returns the planning session id the client claims to
// be working on, or "".
func SessionIDFromContext(ctx context.Context) string { return callerFrom(ctx).SessionID }

// WithUser returns a context carrying userID, for callers outside HTTP.
func WithUser(ctx context.Context, userID string) context.Context {
	c := callerFrom(ctx)
	c.UserID = userID
	c.Username = displayName(userID)
	return context.WithValue(ctx, callerKey{}, c)
}

func withSession(ctx context.Context, sessionID string) context.Context {
	c := callerFrom(ctx)
	c.SessionID = sessionID
	return context.WithValue(ctx, callerKey{}, c)
}

func newAnonID() (string, error) {
	buf := make([]byte, anonIDHexLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return anonPrefix + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	rest, ok := strings.CutPrefix(id, anonPrefix)
	if !ok || len(rest) != anonIDHexLen {
		return false
	}
	for _, r := range rest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Planning sessions are UUIDs; anything else is treated as absent.
func claimedSession(r *http.Request) string {
	raw := r.Header.Get(SessionHeaderName)
	if raw == "" {
		raw = r.URL.Query().Get("session_id")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return id.String()
}

func displayName(userID string) string {
	if rest, ok := strings.CutPrefix(userID, anonPrefix); ok && len(rest) >= 8 {
		return "anon-" + rest[len(rest)-8:]
	}
	return "anon-user"
}

func writeCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// deviceID returns the caller's anonymous id, minting one when the cookie is
// missing or forged. The cookie is refreshed either way.
func deviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else if id, err = newAnonID(); err != nil {
		return "", err
	}
	writeCookie(w, id, !isDev)
	return id, nil
}

// Middleware resolves the Caller for every request and makes sure the user
// row exists before handlers run.
func Middleware(users Users, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := deviceID(w, r, isDev)
			if err != nil {
				slog.Error("Anonymous identity unavailable", "error", err)
				http.Error(w, `{"error":"identity_unavailable"}`, http.StatusInternalServerError)
				return
			}

			ctx := r.Context()
			if _, err := users.EnsureUser(ctx, userID); err != nil {
				slog.Error("Failed to initialize anonymous user", "user_id", userID, "error", err)
				http.Error(w, `{"error":"identity_unavailable"}`, http.StatusInternalServerError)
				return
			}
			if err := users.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "user_id", userID, "error", err)
			}

			ctx = withSession(WithUser(ctx, userID), claimedSession(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote host without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
