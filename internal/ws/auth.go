package ws

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier checks the HMAC-signed bearer tokens carried by AUTH
// frames. The token's userId claim is the account identity for the rest
// of the connection's life.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier over a shared HMAC secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

type userClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Verify parses and validates a token and returns the userId claim.
func (v *TokenVerifier) Verify(token string) (string, error) {
	var claims userClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("verify token: missing userId claim")
	}
	return claims.UserID, nil
}

// Sign mints a token for a user. The auth frontend does this in
// production; here it backs the token subcommand and tests.
func (v *TokenVerifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := userClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
