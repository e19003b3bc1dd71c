package handlers

import (
	"net/http"
	"strings"
)

// Authenticator resolves an incoming request to a user identifier. A false
// return means the request carries no valid credential and must be rejected
// before any pipeline work.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, ok bool)
}

// APIKeyAuthenticator validates bearer tokens against a static token-to-user
// map loaded from configuration.
type APIKeyAuthenticator struct {
	keys map[string]string
}

func NewAPIKeyAuthenticator(keys map[string]string) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys}
}

func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return "", false
	}
	userID, ok := a.keys[token]
	return userID, ok
}
