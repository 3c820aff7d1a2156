package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "validator-test-secret"

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestJWTValidator_Validate(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, testSecret, &Claims{
		UserID: "user_1",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID != "user_1" {
		t.Errorf("UserID = %q, want user_1", claims.UserID)
	}
	if claims.Email != "test@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
}

func TestJWTValidator_AcceptsBearerPrefix(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, testSecret, &Claims{UserID: "user_1"})

	claims, err := v.Validate("Bearer " + token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID != "user_1" {
		t.Errorf("UserID = %q, want user_1", claims.UserID)
	}
}

func TestJWTValidator_Expired(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, testSecret, &Claims{
		UserID: "user_1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.Validate(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Validate() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTValidator_WrongSecret(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, "some-other-secret", &Claims{UserID: "user_1"})

	_, err := v.Validate(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTValidator_Garbage(t *testing.T) {
	v := NewJWTValidator(testSecret)

	if _, err := v.Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}
