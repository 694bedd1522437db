// Package main provides a simple tool to generate session tokens for local
// development, shaped like the ones the remote deal service issues. The web
// client never verifies signatures itself, so any secret works against a
// stubbed backend.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func main() {
	userID := flag.String("user", "", "User ID for the token (default: random)")
	role := flag.String("role", "buyer", "Role claim: buyer, seller or admin")
	secret := flag.String("secret", "", "Signing secret (or set JWT_SECRET env var)")
	expiry := flag.Duration("expiry", 24*time.Hour, "Token expiry duration")
	flag.Parse()

	signingSecret := *secret
	if signingSecret == "" {
		signingSecret = os.Getenv("JWT_SECRET")
	}
	if signingSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: signing secret required. Use -secret flag or set JWT_SECRET env var")
		os.Exit(1)
	}

	subject := *userID
	if subject == "" {
		subject = uuid.NewString()
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": *role,
		"iat":  now.Unix(),
		"exp":  now.Add(*expiry).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingSecret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
