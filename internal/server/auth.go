package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionTTL = 12 * time.Hour

// sessionRegistry tracks session tokens issued by the login flow and the most
// recently issued one, which the long-poll wait handler hands to the waiting
// client (device-flow style).
type sessionRegistry struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]time.Time
	latest string
}

func newSessionRegistry(ttl time.Duration) *sessionRegistry {
	return &sessionRegistry{ttl: ttl, tokens: make(map[string]time.Time)}
}

// issue mints a session token and remembers it as the latest.
func (s *sessionRegistry) issue() (token string, expiresAt time.Time) {
	token = uuid.NewString()
	expiresAt = time.Now().Add(s.ttl)

	s.mu.Lock()
	s.tokens[token] = expiresAt
	s.latest = token
	s.mu.Unlock()
	return token, expiresAt
}

func (s *sessionRegistry) valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(s.tokens, token)
		return false
	}
	return true
}

func (s *sessionRegistry) latestToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// bearerAuth accepts either the static write token or a live session token.
func bearerAuth(token string, sessions *sessionRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			presented := auth[len(prefix):]
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 && !sessions.valid(presented) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
