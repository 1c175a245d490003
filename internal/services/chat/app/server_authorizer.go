package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type wsAuthorizer interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// jwtAuthorizer accepts HS256 tokens whose subject is the chat user.
type jwtAuthorizer struct {
	secret []byte
	now    func() time.Time
}

func newJWTAuthorizer(secret string) *jwtAuthorizer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &jwtAuthorizer{secret: []byte(secret), now: time.Now}
}

func (a *jwtAuthorizer) Authenticate(_ context.Context, accessToken string) (string, error) {
	if a == nil || len(a.secret) == 0 {
		return "", errors.New("auth is not configured")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", errors.New("access token is required")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return "", errors.New("access token has no subject")
	}
	return userID, nil
}

// IssueToken signs an access token for userID that the chat server accepts
// when configured with secret.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	secret = strings.TrimSpace(secret)
	userID = strings.TrimSpace(userID)
	if secret == "" {
		return "", errors.New("secret is required")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
