package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func unsigned(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("whatever"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestUserID(t *testing.T) {
	tests := []struct {
		name    string
		claims  jwt.MapClaims
		want    string
		wantErr error
	}{
		{"mongo style", jwt.MapClaims{"_id": "65f1c0"}, "65f1c0", nil},
		{"numeric id", jwt.MapClaims{"id": float64(42)}, "42", nil},
		{"userId", jwt.MapClaims{"userId": "u7"}, "u7", nil},
		{"sub fallback", jwt.MapClaims{"sub": "s1"}, "s1", nil},
		{"precedence", jwt.MapClaims{"sub": "s1", "_id": "a"}, "a", nil},
		{"none", jwt.MapClaims{"name": "x"}, "", ErrNoUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserID(unsigned(t, tt.claims))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("UserID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserIDGarbage(t *testing.T) {
	if _, err := UserID("not-a-token"); err == nil {
		t.Error("expected parse error")
	}
}

func TestSignVerify(t *testing.T) {
	tok, err := Sign("s3cret", "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	id, err := Verify("s3cret", tok)
	if err != nil || id != "u1" {
		t.Fatalf("Verify() = %q, %v", id, err)
	}
	if _, err := Verify("other", tok); err == nil {
		t.Error("wrong secret should fail")
	}

	exp, err := Expiry(tok)
	if err != nil {
		t.Fatal(err)
	}
	if until := time.Until(exp); until < 59*time.Minute || until > time.Hour+time.Second {
		t.Errorf("expiry in %v, want ~1h", until)
	}
}
