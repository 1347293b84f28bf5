package backendfake

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/jrsteele09/learnbox-auth/backend"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/rs/zerolog/log"
)

// Handler serves the backend over HTTP with paths relative to the auth API
// base (login/, register/, token/refresh/, me/, colleges/).
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"POST /login/{$}":         b.handleLogin,
		"POST /register/{$}":      b.handleRegister,
		"POST /token/refresh/{$}": b.handleRefresh,
		"GET /me/{$}":             b.handleMe,
		"GET /colleges/{$}":       b.handleColleges,
		"GET /colleges/{id}/{$}":  b.handleCollege,
	}
	for pattern, route := range routes {
		mux.HandleFunc(pattern, chainMiddleware(route, loggingMiddleware, recoverMiddleware, compressionMiddleware))
	}
	return mux
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req backend.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := b.Login(r.Context(), req)
	respond(w, http.StatusOK, resp, err)
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req backend.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := b.Register(r.Context(), req)
	respond(w, http.StatusCreated, resp, err)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if !decode(w, r, &req) {
		return
	}
	pair, err := b.Refresh(r.Context(), token.Pair{Refresh: req.Refresh})
	respond(w, http.StatusOK, pair, err)
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		writeJSON(w, http.StatusUnauthorized, &backend.Error{Code: "not_authenticated", Detail: "Authentication credentials were not provided."})
		return
	}
	profile, err := b.Me(r.Context(), raw)
	respond(w, http.StatusOK, profile, err)
}

func (b *Backend) handleColleges(w http.ResponseWriter, r *http.Request) {
	list, err := b.List(r.Context())
	respond(w, http.StatusOK, list, err)
}

func (b *Backend) handleCollege(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, &backend.Error{Code: "not_found", Detail: "Not found."})
		return
	}
	college, err := b.Get(r.Context(), id)
	if errors.Is(err, errors.ErrTenantNotFound) {
		writeJSON(w, http.StatusNotFound, &backend.Error{Code: "not_found", Detail: "Not found."})
		return
	}
	respond(w, http.StatusOK, college, err)
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, &backend.Error{Code: backend.CodeBadRequest, Message: "Malformed JSON body."})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, status int, body any, err error) {
	var apiErr *backend.Error
	switch {
	case errors.As(err, &apiErr):
		writeJSON(w, apiErr.Status, apiErr)
	case err != nil:
		log.Error().Err(err).Msg("backendfake request failed")
		writeJSON(w, http.StatusInternalServerError, &backend.Error{Code: "internal", Message: "Internal server error."})
	default:
		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
