package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// contextKey is a type for context keys
type contextKey string

const (
	// AccountKey is the context key for the authenticated account name
	AccountKey contextKey = "account"
)

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	authService *Service
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(authService *Service) *Middleware {
	return &Middleware{authService: authService}
}

// RequireAuth rejects requests without a valid token in the Authorization
// header and stores the account claim in the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := m.authService.ValidateToken(r.Header.Get("Authorization"))
		if err != nil {
			writeAuthError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), AccountKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAccount extracts the account name from the request context
func GetAccount(ctx context.Context) string {
	account, _ := ctx.Value(AccountKey).(string)
	return account
}

func writeAuthError(w http.ResponseWriter, err error) {
	authErr := &AuthError{Code: CodeTokenInvalid, Message: "Invalid token"}
	errors.As(err, &authErr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": authErr.Message,
		"code":  authErr.Code,
	})
}
