package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims identify a browser session. They carry no user data: the
// principal lives server-side in the session's Machine.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// CookieIssuer signs and verifies the dashboard session cookie.
type CookieIssuer struct {
	Name   string
	Secret []byte
	TTL    time.Duration
	Secure bool
	clock  Clock
}

func NewCookieIssuer(name, secret string, ttl time.Duration, secure bool) *CookieIssuer {
	return &CookieIssuer{
		Name:   name,
		Secret: []byte(secret),
		TTL:    ttl,
		Secure: secure,
		clock:  systemClock{},
	}
}

// NewSessionID returns a fresh random browser-session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Issue signs a token for sessionID.
func (c *CookieIssuer) Issue(sessionID string) (string, time.Time, error) {
	now := c.clock.Now()
	expiresAt := now.Add(c.TTL)

	claims := &SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   sessionID,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies a token and returns its session id.
func (c *CookieIssuer) Parse(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.Secret, nil
	}, jwt.WithTimeFunc(c.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}

// Cookie builds the Set-Cookie value for sessionID.
func (c *CookieIssuer) Cookie(sessionID string) (*http.Cookie, error) {
	value, expiresAt, err := c.Issue(sessionID)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Expired returns a cookie that makes the browser drop the session.
func (c *CookieIssuer) Expired() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// FromRequest returns the session id carried by r, if any.
func (c *CookieIssuer) FromRequest(r *http.Request) (string, error) {
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return "", ErrInvalidToken
	}
	return c.Parse(ck.Value)
}
