// devtoken mints an access token for local testing: go run ./cmd/devtoken -user dev-user-001 -device desktop.
// JWT_PRIVATE_KEY must be set. Refuses to run when APP_ENV=production.
package main

import (
	"flag"
	"fmt"
	"os"

	"playback-control-plane/backend/internal/config"
	"playback-control-plane/backend/internal/lease/domain"
	"playback-control-plane/backend/internal/security"
)

func main() {
	userID := flag.String("user", "dev-user-001", "Subject (user_id) of the token")
	device := flag.String("device", "web", "Device class claim: web or desktop")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		fmt.Fprintln(os.Stderr, "devtoken: refusing to mint tokens in production")
		os.Exit(1)
	}
	class, err := domain.ParseDeviceClass(*device)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	if cfg.JWTPrivateKey == "" {
		fmt.Fprintln(os.Stderr, "devtoken: JWT_PRIVATE_KEY is not set")
		os.Exit(1)
	}

	signer, pub, err := security.LoadKeys(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	tok, exp, err := tokens.IssueAccess(*userID, class.String())
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Println(tok)
}
