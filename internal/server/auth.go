// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// AuthenticatedUser is the caller a bearer token resolved to.
type AuthenticatedUser struct {
	ID   string
	Name string
}

// TokenValidator resolves a bearer token to a user.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*AuthenticatedUser, error)
}

type contextKey int

const authUserKey contextKey = iota

// UserFromContext returns the authenticated caller, or nil on an open API.
func UserFromContext(ctx context.Context) *AuthenticatedUser {
	u, _ := ctx.Value(authUserKey).(*AuthenticatedUser)
	return u
}

func callerID(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return "anonymous"
}

// StaticTokens accepts a fixed token list. Only SHA-256 digests are kept
// and comparisons are constant time.
type StaticTokens struct {
	hashes [][sha256.Size]byte
}

// NewStaticTokens returns a validator for tokens. Empty tokens are rejected.
func NewStaticTokens(tokens []string) (*StaticTokens, error) {
	v := &StaticTokens{hashes: make([][sha256.Size]byte, 0, len(tokens))}
	for i, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			return nil, ragerr.Errorf(ragerr.CodeServerConfigInvalid, "auth token %d is empty", i)
		}
		v.hashes = append(v.hashes, sha256.Sum256([]byte(tok)))
	}
	return v, nil
}

// ValidateToken implements TokenValidator.
func (v *StaticTokens) ValidateToken(_ context.Context, token string) (*AuthenticatedUser, error) {
	sum := sha256.Sum256([]byte(token))
	match := -1
	for i, h := range v.hashes {
		if subtle.ConstantTimeCompare(sum[:], h[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return nil, ragerr.New(ragerr.CodeServerAuthUnauthorized, "invalid token")
	}
	return &AuthenticatedUser{ID: fmt.Sprintf("token-%d", match), Name: "api"}, nil
}

// isPublicPath reports whether path is served without credentials.
func isPublicPath(path string) bool {
	switch path {
	case "/health", "/openapi.json", "/openapi.yaml", "/docs":
		return true
	}
	return strings.HasPrefix(path, "/schemas/")
}

// authMiddleware requires "Authorization: Bearer <token>" on every
// non-public path.
func authMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeErrorJSON(w, http.StatusUnauthorized, "authorization header required")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeErrorJSON(w, http.StatusUnauthorized, "authorization header must use the Bearer scheme")
				return
			}

			user, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				slog.Warn("rejected request", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
				switch {
				case !ragerr.IsUnauthorized(err):
					writeErrorJSON(w, http.StatusInternalServerError, "token validation failed")
				case ragerr.HTTPStatus(err) == http.StatusForbidden:
					writeErrorJSON(w, http.StatusForbidden, "forbidden")
				default:
					writeErrorJSON(w, http.StatusUnauthorized, "invalid token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authUserKey, user)))
		})
	}
}

func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="ragd"`)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		slog.Warn("failed to write error response", "error", err)
	}
}
