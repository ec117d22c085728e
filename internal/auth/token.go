// Package auth extracts what the daemon needs from the opaque bearer token
// handed over by the login flow.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUserID is returned when no known claim carries the user id.
var ErrNoUserID = errors.New("token carries no user id claim")

// userIDClaims lists the claims tried in order.
var userIDClaims = []string{"_id", "id", "userId", "sub"}

// UserID reads the local user id from the token's claims without verifying
// its signature. The backend verifies the token; the client only needs to
// recognise its own messages.
func UserID(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, name := range userIDClaims {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", ErrNoUserID
}

// Expiry returns the token's exp claim, or the zero time when absent.
func Expiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, err
	}
	return exp.Time, nil
}

// Sign issues an HS256 token carrying userID under the _id claim. Used by
// test backends.
func Sign(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"_id": userID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify checks an HS256 token and returns its user id.
func Verify(secret, token string) (string, error) {
	tok, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !tok.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	return UserID(token)
}
