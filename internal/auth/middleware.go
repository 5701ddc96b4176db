package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/romcoding/architex/pkg/types"
)

// Middleware authenticates API requests.
type Middleware struct {
	tokens *TokenService
	logger *zap.Logger

	// devPrincipal, when valid, stands in for requests without a token.
	devPrincipal types.Principal
}

// NewMiddleware creates an auth middleware. tokens may be nil only when a
// development principal is configured.
func NewMiddleware(tokens *TokenService, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{tokens: tokens, logger: logger}
}

// WithDevelopmentPrincipal makes unauthenticated requests act as p.
// A request that does present a token is still validated.
func (m *Middleware) WithDevelopmentPrincipal(p types.Principal) *Middleware {
	m.devPrincipal = p
	return m
}

// RequireAuth validates the bearer token and stores the principal in the
// request context. Failures answer 401 with code AUTHENTICATION.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r.Header.Get("Authorization"))
		if err != nil && r.URL.Query().Get("token") != "" {
			// Browsers cannot set headers on websocket upgrades.
			token, err = r.URL.Query().Get("token"), nil
		}

		switch {
		case err != nil && m.devPrincipal.Valid():
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), m.devPrincipal)))
			return
		case err != nil:
			m.unauthorized(w, "authentication required")
			return
		case m.tokens == nil:
			m.unauthorized(w, "token authentication is not configured")
			return
		}

		p, err := m.tokens.Validate(token)
		if err != nil {
			m.logger.Debug("rejected bearer token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.unauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="architex"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  "AUTHENTICATION",
	})
}
