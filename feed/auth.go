package feed

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Credentials represents Basic authentication credentials
type Credentials struct {
	Username string
	Password string
}

// ErrorType represents the type of authentication error
type ErrorType string

const (
	ErrInvalidCredentials ErrorType = "invalid_credentials"
	ErrUnauthorized       ErrorType = "unauthorized"
)

// AuthError represents an authentication-related error
type AuthError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Authenticator validates credentials
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) error
}

// StaticAuthenticator accepts a single username and password
type StaticAuthenticator Credentials

// Authenticate compares in constant time
func (s StaticAuthenticator) Authenticate(_ context.Context, creds Credentials) error {
	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(s.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(creds.Password), []byte(s.Password)) == 1
	if !userOK || !passOK {
		return &AuthError{Type: ErrUnauthorized, Message: "invalid username or password"}
	}
	return nil
}

// Middleware enforces Basic authentication in front of next
func Middleware(authenticator Authenticator, realm string) func(http.Handler) http.Handler {
	if realm == "" {
		realm = "libremind"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, err := parseBasicAuth(r.Header.Get("Authorization"))
			if err != nil {
				requestAuth(w, realm)
				return
			}
			if err := authenticator.Authenticate(r.Context(), creds); err != nil {
				requestAuth(w, realm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestAuth sends WWW-Authenticate header
func requestAuth(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// parseBasicAuth parses an HTTP Basic Authentication string
func parseBasicAuth(auth string) (Credentials, error) {
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return Credentials{}, &AuthError{
			Type:    ErrInvalidCredentials,
			Message: "invalid authorization header format",
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return Credentials{}, &AuthError{
			Type:    ErrInvalidCredentials,
			Message: "invalid base64 encoding",
			Err:     err,
		}
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, &AuthError{
			Type:    ErrInvalidCredentials,
			Message: "invalid credentials format",
		}
	}
	return Credentials{Username: username, Password: password}, nil
}
