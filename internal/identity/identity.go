// Package identity handles visitor login through a hosted identity
// provider and tracks logged-in visitors with server-side sessions
// referenced by a cookie.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arcanumlabs/arcanum/internal/content"
)

const (
	// SessionCookie names the cookie carrying the session id.
	SessionCookie = "arcanum_session"
	stateCookie   = "arcanum_auth_state"

	sessionTTL = 7 * 24 * time.Hour
	stateTTL   = 10 * time.Minute
)

// ErrNoSession is returned when a request carries no valid session.
var ErrNoSession = errors.New("identity: no session")

// User is the identity returned by the provider after login.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Authenticator is the hosted identity provider seam.
type Authenticator interface {
	// AuthorizationURL returns the provider's hosted login page for the
	// given anti-forgery state.
	AuthorizationURL(state string) (string, error)
	// Authenticate exchanges the callback code for the logged-in user.
	Authenticate(ctx context.Context, code string) (*User, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *content.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*content.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// Service ties the authenticator and session store to the cookie protocol.
type Service struct {
	auth     Authenticator
	sessions SessionStore
	secure   bool
	log      *slog.Logger
}

// NewService creates the identity service. secure controls the cookie
// Secure flag and should be true everywhere except local development.
func NewService(auth Authenticator, sessions SessionStore, secure bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{auth: auth, sessions: sessions, secure: secure, log: logger}
}

// BeginLogin sets the anti-forgery state cookie and returns the provider
// URL to redirect the visitor to.
func (s *Service) BeginLogin(w http.ResponseWriter) (string, error) {
	state := uuid.NewString()
	target, err := s.auth.AuthorizationURL(state)
	if err != nil {
		return "", fmt.Errorf("identity: authorization url: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return target, nil
}

// CompleteLogin verifies the callback, exchanges the code, creates a
// session, and sets the session cookie.
func (s *Service) CompleteLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (*content.Session, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, errors.New("identity: callback without code")
	}
	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != state {
		return nil, errors.New("identity: state mismatch")
	}
	clearCookie(w, stateCookie, s.secure)

	user, err := s.auth.Authenticate(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("identity: authenticate: %w", err)
	}

	now := time.Now()
	sess := &content.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID.String(),
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	s.log.Info("visitor logged in", "user_id", user.ID)
	return sess, nil
}

// SessionFromRequest resolves the session cookie. A missing, malformed,
// or expired session is reported as ErrNoSession.
func (s *Service) SessionFromRequest(ctx context.Context, r *http.Request) (*content.Session, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, ErrNoSession
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return nil, ErrNoSession
	}
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, content.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Logout deletes the session and clears the cookie. Logging out without a
// session is not an error.
func (s *Service) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	clearCookie(w, SessionCookie, s.secure)
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.log.Info("visitor logged out", "session_id", id)
	return nil
}

func clearCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
