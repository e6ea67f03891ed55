// Package httpapi is the HTTP-facing half of the priority pipeline
// (spec.md §4.13): it classifies each request, submits it through
// admission control into the queue set, and blocks for a response.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/auth"
	"github.com/jihwankim/irrig-core/internal/classifier"
	"github.com/jihwankim/irrig-core/internal/queue"
	"github.com/jihwankim/irrig-core/internal/server"
)

// defaultTimeoutMs bounds how long a request waits in queue before the
// HTTP layer gives up and returns 504 (§7 Timeout surfacing).
const defaultTimeoutMs = 5000

// Handler is the signature every route's business logic implements; it
// runs on a worker goroutine, not the HTTP goroutine (§4.13). It may set
// response headers (e.g. Set-Cookie) on w before returning; the pipeline
// writes the status and body afterward on the HTTP goroutine.
type Handler func(ctx *server.Context, w http.ResponseWriter, r *http.Request, params map[string]string) (int, interface{}, error)

// submit implements §4.13's pipeline: classify, admit, enqueue, wait.
// Emergency-stop is special-cased by its own route to run inline on
// QueueFull (spec.md §7 "User-visible failure behavior"). minRole is the
// §6.1 per-route role requirement; auth.RoleNone means no session is
// required at all.
func submit(ctx *server.Context, w http.ResponseWriter, r *http.Request, params map[string]string, handler Handler, minRole auth.Role, runInlineOnQueueFull bool) {
	class := classifier.Classify(r.Method, r.URL.Path)

	effective, err := ctx.Pri.Admit(class.Priority)
	if err != nil {
		writeError(w, err)
		return
	}

	if minRole > auth.RoleNone {
		if _, authErr := authorizeRole(ctx, r, minRole); authErr != nil {
			writeError(w, authErr)
			return
		}
	}

	type outcome struct {
		status int
		body   interface{}
		err    error
	}
	done := make(chan outcome, 1)

	req := queue.NewRequest(r.Method, r.URL.Path, effective, time.Now().UnixMicro(), defaultTimeoutMs)
	req.EstimatedMs = class.EstimatedMs
	req.RequiresAuth = class.RequiresAuth
	req.IsEmergency = class.IsEmergency
	req.Dispatch = func(_ *queue.Request) {
		status, body, err := handler(ctx, w, r, params)
		done <- outcome{status, body, err}
	}
	req.Respond = func(_ *queue.Request, err error) {
		if err != nil {
			select {
			case done <- outcome{0, nil, err}:
			default:
			}
		}
	}

	if enqErr := ctx.Queues.Enqueue(req); enqErr != nil {
		if runInlineOnQueueFull {
			status, body, err := handler(ctx, w, r, params)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, status, body)
			return
		}
		ctx.Pri.RecordDrop()
		writeError(w, enqErr)
		return
	}

	select {
	case o := <-done:
		if o.err != nil {
			writeError(w, o.err)
			return
		}
		writeJSON(w, o.status, o.body)
	case <-time.After(defaultTimeoutMs * time.Millisecond):
		ctx.Pri.RecordTimeout()
		writeError(w, apierr.New(apierr.Timeout, "request timed out"))
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := kind.HTTPStatus()
	writeJSON(w, status, map[string]interface{}{
		"status":  "error",
		"message": err.Error(),
	})
}

// authorizeRole extracts a session token from the cookie or Authorization
// header and validates it against the route's minimum role (§6.1/§4.12).
func authorizeRole(ctx *server.Context, r *http.Request, minRole auth.Role) (string, error) {
	token := sessionToken(r)
	if token == "" {
		return "", apierr.New(apierr.SessionExpired, "no session token presented")
	}
	sess, err := ctx.Auth.RequireRole(token, minRole)
	if err != nil {
		return "", err
	}
	return sess.Username, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// sessionToken extracts the bearer/cookie token without validating it,
// for handlers (login/logout/status) that need the raw token.
func sessionToken(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	if c, err := r.Cookie("session_token"); err == nil {
		return c.Value
	}
	return ""
}
