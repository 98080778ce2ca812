package service

import (
	"strings"

	"dsuauth/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

type TokenClaims struct {
	Email string
	Name  string
}

// DecodeTokenClaims reads the identity claims out of a provider-issued
// bearer token without verifying its signature. The token is obtained
// directly from the provider's token endpoint over TLS and is never
// accepted from the end user, so signature verification is intentionally
// out of scope here.
func DecodeTokenClaims(accessToken string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, err
	}

	email := firstClaim(claims, "email", "upn", "unique_name")
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrExchangeFailed
	}
	email = utils.NormalizeEmail(email)

	name := firstClaim(claims, "name")
	if name == "" {
		name = utils.DeriveName(email)
	}

	return &TokenClaims{Email: email, Name: name}, nil
}

func firstClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if value, ok := claims[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
