// Package api provides the HTTP surface: content endpoints, auth flow,
// spellbook casts, and the oracle websocket bridge.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arcanumlabs/arcanum/internal/content"
	"github.com/arcanumlabs/arcanum/internal/identity"
	"github.com/arcanumlabs/arcanum/internal/spellbook"
)

// ContentStore is the read surface of the content database.
type ContentStore interface {
	ListWritings(ctx context.Context) ([]content.Writing, error)
	GetWriting(ctx context.Context, id uuid.UUID) (*content.Writing, error)
	ListTracks(ctx context.Context) ([]content.Track, error)
}

// SpellCaster runs spellbook image edits.
type SpellCaster interface {
	Cast(ctx context.Context, spell, imageBase64, mimeType string) (*spellbook.Result, error)
}

// Handler provides common handler utilities.
type Handler struct {
	store    ContentStore
	identity *identity.Service
	caster   SpellCaster
	log      *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(store ContentStore, idsvc *identity.Service, caster SpellCaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, identity: idsvc, caster: caster, log: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RequireSession rejects requests without a valid login session and stores
// the session on the request context.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.identity.SessionFromRequest(r.Context(), r)
		if errors.Is(err, identity.ErrNoSession) {
			Error(w, http.StatusUnauthorized, "not logged in")
			return
		}
		if err != nil {
			h.log.Error("session lookup failed", "error", err)
			Error(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

type sessionKey struct{}

func withSession(ctx context.Context, sess *content.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFrom returns the session stored by RequireSession, or nil.
func SessionFrom(ctx context.Context) *content.Session {
	sess, _ := ctx.Value(sessionKey{}).(*content.Session)
	return sess
}

// handleLogin redirects the visitor to the hosted login page.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	target, err := h.identity.BeginLogin(w)
	if err != nil {
		h.log.Error("begin login failed", "error", err)
		Error(w, http.StatusInternalServerError, "login unavailable")
		return
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// handleCallback completes the login and sends the visitor home.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if _, err := h.identity.CompleteLogin(r.Context(), w, r); err != nil {
		h.log.Warn("login callback rejected", "error", err)
		Error(w, http.StatusBadRequest, "login failed")
		return
	}
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.Logout(r.Context(), w, r); err != nil {
		h.log.Error("logout failed", "error", err)
		Error(w, http.StatusInternalServerError, "logout failed")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

// handleMe returns the logged-in visitor.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := SessionFrom(r.Context())
	JSON(w, http.StatusOK, identity.User{ID: sess.UserID, Email: sess.Email, Name: sess.Name})
}

func (h *Handler) handleListWritings(w http.ResponseWriter, r *http.Request) {
	writings, err := h.store.ListWritings(r.Context())
	if err != nil {
		h.log.Error("list writings failed", "error", err)
		Error(w, http.StatusInternalServerError, "library unavailable")
		return
	}
	if writings == nil {
		writings = []content.Writing{}
	}
	JSON(w, http.StatusOK, writings)
}

func (h *Handler) handleGetWriting(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "malformed writing id")
		return
	}
	writing, err := h.store.GetWriting(r.Context(), id)
	if errors.Is(err, content.ErrNotFound) {
		Error(w, http.StatusNotFound, "no such scroll")
		return
	}
	if err != nil {
		h.log.Error("get writing failed", "error", err, "id", id)
		Error(w, http.StatusInternalServerError, "library unavailable")
		return
	}
	JSON(w, http.StatusOK, writing)
}

func (h *Handler) handleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.store.ListTracks(r.Context())
	if err != nil {
		h.log.Error("list tracks failed", "error", err)
		Error(w, http.StatusInternalServerError, "playlist unavailable")
		return
	}
	if tracks == nil {
		tracks = []content.Track{}
	}
	JSON(w, http.StatusOK, tracks)
}

type castRequest struct {
	Spell       string `json:"spell"`
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
}

// handleCast runs one spellbook image edit.
func (h *Handler) handleCast(w http.ResponseWriter, r *http.Request) {
	var req castRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "malformed cast request")
		return
	}
	res, err := h.caster.Cast(r.Context(), req.Spell, req.ImageBase64, req.MimeType)
	switch {
	case errors.Is(err, spellbook.ErrEmptySpell),
		errors.Is(err, spellbook.ErrEmptyImage),
		errors.Is(err, spellbook.ErrUnsupportedMime),
		errors.Is(err, spellbook.ErrImageTooLarge):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("cast failed", "error", err)
		Error(w, http.StatusBadGateway, "the spell fizzled")
		return
	}
	JSON(w, http.StatusOK, res)
}
