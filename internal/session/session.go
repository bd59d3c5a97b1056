// Package session keeps the browser's user UUID in a signed cookie. There are
// no accounts: whoever holds the cookie is that user.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"scenerender/internal/ids"
	"scenerender/internal/pkg/errors"
)

const (
	CookieName = "scenerender_session"
	issuer     = "scenerender"
	defaultTTL = 365 * 24 * time.Hour
)

// Session is the decoded cookie.
type Session struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

type claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session cookies.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewManager creates a manager. A zero ttl means one year.
func NewManager(secret string, ttl time.Duration, secureCookie bool) *Manager {
	if ttl == 0 {
		ttl = defaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl, secure: secureCookie}
}

// Issue signs a session for userID.
func (m *Manager) Issue(userID string) (string, Session, error) {
	if !ids.IsID(userID) {
		return "", Session{}, errors.ValidationField("user_uuid", "user uuid is not a valid UUID")
	}
	now := time.Now().UTC()
	s := Session{UserID: userID, SessionID: ids.NewID(), ExpiresAt: now.Add(m.ttl)}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ID:        s.SessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	})
	raw, err := tok.SignedString(m.secret)
	if err != nil {
		return "", Session{}, errors.Wrap(err, "session.issue", "sign session")
	}
	return raw, s, nil
}

// Parse verifies a signed session.
func (m *Manager) Parse(raw string) (Session, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return Session{}, errors.WrapWithCode(err, errors.CodeBadRequest, "session.parse", "invalid session")
	}
	if !tok.Valid || !ids.IsID(c.UserID) {
		return Session{}, errors.New(errors.CodeBadRequest, "invalid session")
	}
	s := Session{UserID: c.UserID, SessionID: c.ID}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s, nil
}

// SetCookie issues a session for userID and writes it to the response.
func (m *Manager) SetCookie(w http.ResponseWriter, userID string) (Session, error) {
	raw, s, err := m.Issue(userID)
	if err != nil {
		return Session{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    raw,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return s, nil
}

// FromRequest reads the session cookie. ok is false when it is missing or
// invalid.
func (m *Manager) FromRequest(r *http.Request) (Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Session{}, false
	}
	s, err := m.Parse(c.Value)
	if err != nil {
		return Session{}, false
	}
	return s, true
}

type ctxKey struct{}

// Middleware stores a valid session, if any, in the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := m.FromRequest(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, s))
		}
		next.ServeHTTP(w, r)
	})
}

// FromContext returns the session stored by Middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
