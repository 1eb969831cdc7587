package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"coharvest/crypto"
)

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	RoleClaim  string
	ClockSkew  time.Duration
}

// Identity is the authenticated caller of a request. Caller is decoded from
// the token subject.
type Identity struct {
	Caller crypto.Address
	Roles  []string
}

// HasRole reports whether the token carried role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey string

const contextKeyIdentity contextKey = "bidpoold.identity"

// IdentityFrom returns the identity stored by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(Identity)
	return id, ok
}

// Authenticator verifies HMAC signed JWTs.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "roles"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller identity on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeProblem(w, http.StatusUnauthorized, "authorization", "missing bearer token")
			return
		}
		claims, err := a.parseToken(tokenString)
		if err != nil {
			a.logger.Warn("token validation failed", "error", err)
			writeProblem(w, http.StatusUnauthorized, "authorization", "invalid token")
			return
		}
		if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
			a.logger.Warn("claim validation failed", "error", err)
			writeProblem(w, http.StatusUnauthorized, "authorization", "invalid token")
			return
		}
		subject, _ := claims["sub"].(string)
		caller, err := crypto.DecodeAddress(strings.TrimSpace(subject))
		if err != nil || caller.IsZero() {
			writeProblem(w, http.StatusUnauthorized, "authorization", "token subject is not an address")
			return
		}
		id := Identity{Caller: caller, Roles: extractRoles(claims, a.cfg.RoleClaim)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyIdentity, id)))
	})
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
		default:
			return errors.New("audience missing")
		}
	}
	return nil
}

func extractRoles(claims jwt.MapClaims, claim string) []string {
	switch v := claims[claim].(type) {
	case string:
		return strings.Fields(v)
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
