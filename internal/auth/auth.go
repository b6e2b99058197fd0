// Package auth authenticates inbound gateway requests. Tokens are static
// bearer credentials issued to the conversational front end and back-office
// tooling.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

type Claims struct {
	Subject string
	Token   string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// TokenAuthenticator accepts a fixed set of bearer tokens mapped to subjects.
// An empty set disables auth entirely, for local development.
type TokenAuthenticator struct {
	// Tokens maps token value to subject name.
	Tokens map[string]string
}

func NewAuthenticatorFromEnv() *TokenAuthenticator {
	tokens := map[string]string{}
	if t := os.Getenv("CLAIMFLOW_API_TOKEN"); t != "" {
		tokens[t] = "api"
	}
	return &TokenAuthenticator{Tokens: tokens}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	if len(a.Tokens) == 0 {
		return Claims{Subject: "anonymous"}, nil
	}

	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}

	for token, subject := range a.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(bearer)) == 1 {
			return Claims{Subject: subject, Token: bearer}, nil
		}
	}
	return Claims{}, ErrInvalidToken
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
