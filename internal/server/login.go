package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/broadcast"
)

// loginWaitTimeout bounds the long poll so proxies don't kill the connection
// mid-wait; clients re-issue the call on timeout.
const loginWaitTimeout = 90 * time.Second

// handleLoginComplete finishes the out-of-band login: it verifies the write
// token, mints a session token, and broadcasts the success signal that wakes
// every long-poll waiter and every in-process retry listener.
func handleLoginComplete(deps Deps, sessions *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if subtle.ConstantTimeCompare([]byte(req.Token), []byte(deps.Token)) != 1 {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid write token")
			return
		}

		token, expiresAt := sessions.issue()
		if deps.Broker != nil {
			deps.Broker.Publish(broadcast.TopicAuth, broadcast.LoginSuccess)
		}
		deps.Logger.Info("login completed, session token issued")

		writeJSON(w, http.StatusOK, map[string]any{
			"session_token": token,
			"expires_at":    expiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// handleLoginWait long-polls for the next login-success signal. There is no
// polling loop anywhere: the waiter parks on a broker subscription until the
// signal arrives, the timeout passes, or the client goes away. The response
// carries the freshly issued session token so the waiting client can retry
// its write with working credentials.
func handleLoginWait(deps Deps, sessions *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Broker == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "login notifications are not enabled")
			return
		}

		sub := deps.Broker.Subscribe(broadcast.TopicAuth)
		defer sub.Close()

		timeout := time.NewTimer(loginWaitTimeout)
		defer timeout.Stop()

		for {
			select {
			case msg := <-sub.C:
				if msg.Payload != broadcast.LoginSuccess {
					continue
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"event":         broadcast.LoginSuccess,
					"session_token": sessions.latestToken(),
				})
				return
			case <-timeout.C:
				httpError(w, http.StatusRequestTimeout, "timeout_error", "no login completed within the wait window")
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}
