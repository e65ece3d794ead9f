package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/johnrirwin/avatarguard/internal/config"
	"github.com/johnrirwin/avatarguard/internal/logging"
)

// Error codes carried by AuthError.
const (
	CodeTokenMissing = "token_missing"
	CodeTokenInvalid = "token_invalid"
)

// Service verifies identity tokens issued by the chat front end.
type Service struct {
	config config.AuthConfig
	logger *logging.Logger
}

// NewService creates a new auth service
func NewService(cfg config.AuthConfig, logger *logging.Logger) *Service {
	if cfg.AccountClaim == "" {
		cfg.AccountClaim = "account"
	}
	return &Service{
		config: cfg,
		logger: logger,
	}
}

// ValidateToken verifies an HS256 token and returns its account claim. A
// leading "Bearer " is accepted and stripped.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	tokenString = stripBearer(tokenString)
	if tokenString == "" {
		return "", &AuthError{Code: CodeTokenMissing, Message: "Token not provided"}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.JWTIssuer))
	}
	if s.config.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(s.config.JWTAudience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	}, opts...)
	if err != nil {
		s.logger.Debug("Token rejected", logging.WithField("error", err.Error()))
		return "", &AuthError{Code: CodeTokenInvalid, Message: "Invalid token"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", &AuthError{Code: CodeTokenInvalid, Message: "Invalid token"}
	}

	account, _ := claims[s.config.AccountClaim].(string)
	account = strings.TrimSpace(account)
	if account == "" {
		return "", &AuthError{Code: CodeTokenInvalid, Message: "Invalid token"}
	}

	return account, nil
}

func stripBearer(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "Bearer") {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AuthError) Error() string {
	return e.Message
}
