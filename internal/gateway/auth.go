package gateway

import (
	"cmp"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/soyeahso/closer/internal/config"
)

// Auth modes.
const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

// AuthResult is the verdict on a console's credentials.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func denied(reason string) AuthResult { return AuthResult{Reason: reason} }

// ResolvedAuth is the gateway's own credential after env fallbacks.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// secret returns the server-side credential for the mode.
func (a ResolvedAuth) secret() string {
	if a.Mode == AuthModePassword {
		return a.Password
	}
	return a.Token
}

// ResolveAuth fills blank credentials from CLOSER_GATEWAY_TOKEN and
// CLOSER_GATEWAY_PASSWORD. Without an explicit mode, a password selects
// password mode.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{
		Mode:     cfg.Mode,
		Token:    cmp.Or(cfg.Token, os.Getenv("CLOSER_GATEWAY_TOKEN")),
		Password: cmp.Or(cfg.Password, os.Getenv("CLOSER_GATEWAY_PASSWORD")),
	}
	if auth.Mode == "" {
		auth.Mode = AuthModeToken
		if auth.Password != "" {
			auth.Mode = AuthModePassword
		}
	}
	return auth
}

// Authorize checks what a console presented against the server credential.
func Authorize(server ResolvedAuth, client *ConnectAuth) AuthResult {
	if client == nil {
		return denied("no credentials provided")
	}
	var presented string
	switch server.Mode {
	case AuthModeToken:
		presented = client.Token
	case AuthModePassword:
		presented = client.Password
	default:
		return denied("unknown auth mode: " + server.Mode)
	}
	switch {
	case server.secret() == "":
		return denied("server " + server.Mode + " not configured")
	case presented == "":
		return denied(server.Mode + " required")
	case !safeEqual(presented, server.secret()):
		return denied(server.Mode + "_mismatch")
	}
	return AuthResult{OK: true, Method: server.Mode}
}

// requestAuth reads "Authorization: Bearer <secret>" as the credential of
// the server's mode.
func requestAuth(server ResolvedAuth, r *http.Request) *ConnectAuth {
	scheme, secret, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	secret = strings.TrimSpace(secret)
	if !ok || !strings.EqualFold(scheme, "bearer") || secret == "" {
		return nil
	}
	if server.Mode == AuthModePassword {
		return &ConnectAuth{Password: secret}
	}
	return &ConnectAuth{Token: secret}
}

// safeEqual compares digests so neither content nor length leaks through
// timing.
func safeEqual(a, b string) bool {
	da, db := sha256.Sum256([]byte(a)), sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
