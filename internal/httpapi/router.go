// Package httpapi assembles the relay's HTTP surface: the login flow, the
// historical message fetch and the WebSocket endpoint.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"duochat/internal/auth"
	"duochat/internal/protocol"
	"duochat/internal/store"
	"duochat/internal/ws"
)

// Deps carries the server subsystems the router wires together.
type Deps struct {
	Hub       *ws.Hub
	Store     *store.Store
	Authority *auth.Authority
	Login     *auth.LoginHandler

	// HistoryLimit caps GET /api/messages responses.
	HistoryLimit int
}

func NewRouter(d Deps) http.Handler {
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = 100
	}

	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Post("/api/auth/login", d.Login.ServeHTTP)
	r.Get("/api/messages", d.handleMessages)
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWS(d.Hub, d.Authority, w, req)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}

// handleMessages serves the historical source for client reconciliation:
// the most recent persisted messages, oldest first.
func (d Deps) handleMessages(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if _, err := d.Authority.ValidateToken(token); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	limit := d.HistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	msgs, err := d.Store.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("[api] load recent messages")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []protocol.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(msgs); err != nil {
		log.Error().Err(err).Msg("[api] encode messages")
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Dur("took", time.Since(start)).
			Msg("[api] request")
	})
}
