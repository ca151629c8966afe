package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "stustapay"

// UserTokenPayload is encoded in user access tokens.
type UserTokenPayload struct {
	UserID    int64 `json:"user_id"`
	SessionID int64 `json:"session_id"`
}

// TerminalTokenPayload is encoded in terminal access tokens.
type TerminalTokenPayload struct {
	TillID      int64     `json:"till_id"`
	SessionUUID uuid.UUID `json:"session_uuid"`
}

type userClaims struct {
	UserTokenPayload
	jwt.RegisteredClaims
}

type terminalClaims struct {
	TerminalTokenPayload
	jwt.RegisteredClaims
}

// TokenService signs and decodes access tokens. Tokens do not expire on
// their own; a user token is valid as long as its session row exists.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret string) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// CreateUserAccessToken mints a token for one login session.
func (s *TokenService) CreateUserAccessToken(payload UserTokenPayload) (string, error) {
	claims := userClaims{
		UserTokenPayload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// DecodeUserToken returns false for tampered, malformed or foreign tokens.
func (s *TokenService) DecodeUserToken(token string) (UserTokenPayload, bool) {
	var claims userClaims
	if !s.parse(token, &claims) {
		return UserTokenPayload{}, false
	}
	if claims.UserID < 1 || claims.SessionID < 1 {
		return UserTokenPayload{}, false
	}
	return claims.UserTokenPayload, true
}

// CreateTerminalAccessToken mints a token for a registered till.
func (s *TokenService) CreateTerminalAccessToken(payload TerminalTokenPayload) (string, error) {
	claims := terminalClaims{
		TerminalTokenPayload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// DecodeTerminalToken returns false for tampered, malformed or foreign tokens.
func (s *TokenService) DecodeTerminalToken(token string) (TerminalTokenPayload, bool) {
	var claims terminalClaims
	if !s.parse(token, &claims) {
		return TerminalTokenPayload{}, false
	}
	if claims.TillID < 1 || claims.SessionUUID == uuid.Nil {
		return TerminalTokenPayload{}, false
	}
	return claims.TerminalTokenPayload, true
}

func (s *TokenService) parse(token string, claims jwt.Claims) bool {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
	)
	return err == nil && parsed.Valid
}
