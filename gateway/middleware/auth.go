package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls bearer-token validation for privileged routes.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const (
	// ContextKeyScopes carries the validated token scopes for handlers that
	// need them.
	ContextKeyScopes contextKey = "gateway.scopes"
	// ContextKeySubject carries the validated token subject so handlers can
	// bind the acting address to the caller's identity.
	ContextKeySubject contextKey = "gateway.subject"
)

// Subject returns the validated token subject stored by the middleware. The
// second return is false only when the request never passed through an
// enabled authenticator; an authenticated token without a subject yields an
// empty string.
func Subject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(ContextKeySubject).(string)
	return subject, ok
}

// Authenticator validates HMAC-signed JWTs and enforces per-route scopes.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Middleware returns a handler wrapper that rejects requests lacking a valid
// bearer token carrying every required scope. When auth is disabled the
// wrapper is a passthrough.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("token validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
				a.logger.Warn("claim validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if !hasScopes(scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			subject, _ := claims["sub"].(string)
			ctx := context.WithValue(r.Context(), ContextKeyScopes, scopes)
			ctx = context.WithValue(ctx, ContextKeySubject, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		if int64(exp) < time.Now().Unix() {
			return errors.New("token expired")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(strings.TrimSpace(v))
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
