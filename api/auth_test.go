package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenWrongScheme(t *testing.T) {
	if _, err := bearerToken("Basic abc.def.ghi"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestBearerTokenManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := bearerToken(header); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		Audience:   "api://aud",
		Issuer:     "https://issuer/",
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}

	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
