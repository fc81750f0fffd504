package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/apikey"
	"github.com/jslitzker/forgeboard/internal/auth/ratelimit"
	"github.com/jslitzker/forgeboard/internal/auth/session"
)

type ctxKey int

const resultKey ctxKey = iota

// Gateway authenticates incoming requests against the session registry and
// the API key registry and publishes the outcome into the request context.
// All collaborators are injected; the gateway holds no process-global state.
type Gateway struct {
	sessions *session.Manager
	apiKeys  *apikey.Manager
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

func NewGateway(sessions *session.Manager, apiKeys *apikey.Manager, limiter *ratelimit.Limiter, logger *zap.Logger) *Gateway {
	return &Gateway{sessions: sessions, apiKeys: apiKeys, limiter: limiter, logger: logger}
}

// FromContext returns the authentication result published by the gateway.
func FromContext(ctx context.Context) (autherr.Result, bool) {
	res, ok := ctx.Value(resultKey).(autherr.Result)
	return res, ok
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (autherr.Identity, bool) {
	res, ok := FromContext(ctx)
	if !ok || !res.Ok || res.Identity == nil {
		return nil, false
	}
	return res.Identity, true
}

// Authenticate resolves the request's credentials. A bearer token always wins
// over an API key when both are present; missing credentials are reported as
// an invalid token so unauthenticated and badly-authenticated requests are
// indistinguishable to the caller.
func (g *Gateway) Authenticate(r *http.Request) autherr.Result {
	authz := r.Header.Get("Authorization")

	if strings.HasPrefix(authz, "Bearer ") {
		return g.sessions.Validate(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
	}

	if key := extractAPIKey(r, authz); key != "" {
		return g.apiKeys.Validate(key)
	}

	return autherr.Failure(autherr.ErrTokenInvalid, "authentication required")
}

func extractAPIKey(r *http.Request, authz string) string {
	if strings.HasPrefix(authz, "Api-Key ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Api-Key "))
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// RequireAuth rejects the request unless it carries valid credentials.
func (g *Gateway) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.Authenticate(r)
		if !res.Ok {
			writeFailure(w, res)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), resultKey, res)))
	})
}

// OptionalAuth publishes the identity when credentials are present and valid,
// and lets the request through either way.
func (g *Gateway) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.Authenticate(r)
		if res.Ok {
			r = r.WithContext(context.WithValue(r.Context(), resultKey, res))
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission rejects authenticated requests whose identity does not
// carry the permission. Session identities answer from the user's derived
// set; API key identities answer from the key's own scoped set, so a key can
// hold fewer rights than its owner.
func (g *Gateway) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, _ := FromContext(r.Context())
			if !hasPermission(res.Identity, permission) {
				writeError(w, http.StatusForbidden, autherr.KindPermissionDenied, "permission denied: "+permission+" required")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// RequireAdmin rejects requests whose identity lacks administrative rights.
func (g *Gateway) RequireAdmin(next http.Handler) http.Handler {
	return g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, _ := FromContext(r.Context())
		if !res.IsAdmin || !hasPermission(res.Identity, "admin") {
			writeError(w, http.StatusForbidden, autherr.KindPermissionDenied, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func hasPermission(id autherr.Identity, permission string) bool {
	if id == nil {
		return false
	}
	for _, p := range id.Permissions() {
		if p == permission {
			return true
		}
	}
	return false
}

// RateLimit enforces a sliding-window limit keyed by authenticated user when
// available, client IP otherwise. Every response carries the X-RateLimit-*
// headers; a rejected request additionally carries Retry-After.
func (g *Gateway) RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID int64
			if res, ok := FromContext(r.Context()); ok && res.Ok {
				userID = res.UserID
			}
			key := ratelimit.SubjectKey(userID, r)

			allowed := g.limiter.Allow(key, limit, window)
			info := g.limiter.Info(key, limit, window)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset, 10))

			if !allowed {
				retry := info.Reset - time.Now().Unix()
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				writeError(w, http.StatusTooManyRequests, autherr.KindRateLimited, "rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeFailure(w http.ResponseWriter, res autherr.Result) {
	writeError(w, res.ErrKind.HTTPStatus(), res.ErrKind, res.Message)
}

func writeError(w http.ResponseWriter, status int, kind autherr.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":       false,
		"error":         string(kind),
		"error_message": message,
	})
}
