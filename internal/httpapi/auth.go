package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie carries the staff session for browser EventSource clients,
// which cannot set an Authorization header. It is honoured on GET /v1/events
// only.
const SessionCookie = "turnstile_session"

var (
	ErrNoCredentials      = errors.New("no credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionsDisabled   = errors.New("session secret not configured")
)

type PrincipalKind string

const (
	PrincipalDevice PrincipalKind = "device"
	PrincipalStaff  PrincipalKind = "staff"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Kind    PrincipalKind
	Subject string
	Name    string
	Role    string
}

// SessionClaims is the payload of a staff session token.
type SessionClaims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator recognises reader devices by shared secret and staff by
// HS256 session tokens.
type Authenticator struct {
	deviceSecrets [][]byte
	sessionKey    []byte
	now           func() time.Time
}

func NewAuthenticator(deviceSecrets []string, sessionSecret string) *Authenticator {
	a := &Authenticator{now: time.Now}
	for _, s := range deviceSecrets {
		if s = strings.TrimSpace(s); s != "" {
			a.deviceSecrets = append(a.deviceSecrets, []byte(s))
		}
	}
	if sessionSecret != "" {
		a.sessionKey = []byte(sessionSecret)
	}
	return a
}

// IssueSession signs a staff session token valid for ttl.
func (a *Authenticator) IssueSession(subject, name, role string, ttl time.Duration) (string, error) {
	if a.sessionKey == nil {
		return "", ErrSessionsDisabled
	}
	now := a.now()
	claims := SessionClaims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.sessionKey)
}

// Authenticate resolves the Authorization header. Device secrets are
// compared in constant time; anything else must be a valid session.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	return a.resolve(bearerToken(r))
}

// AuthenticateStream is Authenticate with a fallback to the session cookie.
// Only the read-only event stream accepts it, since browsers attach cookies
// to cross-site requests.
func (a *Authenticator) AuthenticateStream(r *http.Request) (Principal, error) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			token = c.Value
		}
	}
	return a.resolve(token)
}

func (a *Authenticator) resolve(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNoCredentials
	}

	if a.isDeviceSecret(token) {
		return Principal{Kind: PrincipalDevice, Subject: "device"}, nil
	}
	return a.parseSession(token)
}

func (a *Authenticator) isDeviceSecret(token string) bool {
	tb := []byte(token)
	match := 0
	for _, s := range a.deviceSecrets {
		match |= subtle.ConstantTimeCompare(tb, s)
	}
	return match == 1
}

func (a *Authenticator) parseSession(token string) (Principal, error) {
	if a.sessionKey == nil {
		return Principal{}, ErrInvalidCredentials
	}

	var claims SessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.sessionKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.Subject == "" || claims.Role == "" {
		return Principal{}, fmt.Errorf("%w: missing subject or role", ErrInvalidCredentials)
	}
	return Principal{
		Kind:    PrincipalStaff,
		Subject: claims.Subject,
		Name:    claims.Name,
		Role:    claims.Role,
	}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// requireAuth admits principals of the given kinds. Staff principals must
// also hold one of roles when roles is non-empty. Failures are answered
// before next runs: 401 for missing or bad credentials, 403 otherwise.
func (a *Authenticator) requireAuth(kinds []PrincipalKind, roles []string) func(http.Handler) http.Handler {
	return a.guard(a.Authenticate, kinds, roles)
}

// requireStreamAuth is requireAuth for the event stream, where EventSource
// can only present the session cookie.
func (a *Authenticator) requireStreamAuth(roles []string) func(http.Handler) http.Handler {
	return a.guard(a.AuthenticateStream, []PrincipalKind{PrincipalStaff}, roles)
}

func (a *Authenticator) guard(authn func(*http.Request) (Principal, error), kinds []PrincipalKind, roles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authn(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
				return
			}
			if !kindAllowed(p.Kind, kinds) {
				writeError(w, http.StatusForbidden, "forbidden", "credential not accepted here")
				return
			}
			if p.Kind == PrincipalStaff && len(roles) > 0 && !roleAllowed(p.Role, roles) {
				writeError(w, http.StatusForbidden, "forbidden", "role not permitted")
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		})
	}
}

func kindAllowed(k PrincipalKind, kinds []PrincipalKind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func roleAllowed(role string, roles []string) bool {
	for _, r := range roles {
		if strings.EqualFold(role, r) {
			return true
		}
	}
	return false
}
