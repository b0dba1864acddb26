package auth

import (
	"net"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// limiterPool hands out one token-bucket limiter per client address so a
// single origin cannot hammer the bcrypt comparison.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	l, ok := p.m[key]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.m[key] = l
	}
	return l.Allow()
}

// LoginHandler authenticates username/password against a static user table
// (username -> bcrypt hash) and issues a session token.
type LoginHandler struct {
	users     map[string]string
	authority *Authority
	limiters  limiterPool
}

func NewLoginHandler(users map[string]string, authority *Authority) *LoginHandler {
	return &LoginHandler{
		users:     users,
		authority: authority,
		limiters:  limiterPool{rps: 2, burst: 5},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Token string `json:"token"`
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !h.limiters.allow(ip) {
		log.Warn().Str("remote", ip).Msg("[auth] login rate limited")
		http.Error(w, `{"error":"too many attempts"}`, http.StatusTooManyRequests)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	hash, ok := h.users[req.Username]
	if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		log.Warn().Str("user", req.Username).Str("remote", ip).Msg("[auth] login rejected")
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	token, err := h.authority.IssueToken(req.Username)
	if err != nil {
		log.Error().Err(err).Str("user", req.Username).Msg("[auth] issue token failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	log.Info().Str("user", req.Username).Msg("[auth] login ok")
	var resp loginResponse
	resp.User.ID = req.Username
	resp.User.Username = req.Username
	resp.Token = token
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("[auth] encode login response")
	}
}

// HashPassword produces a bcrypt hash suitable for the static user table.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}
