package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoToken is returned when no GitHub token is configured.
var ErrNoToken = errors.New("no GitHub token configured")

// tokenEnvVars are checked in order before the config file.
var tokenEnvVars = []string{"ghapitoken", "GH_TOKEN", "GITHUB_TOKEN"}

// GetToken returns the GitHub token used for clones.
// It checks in order: environment variables, config file.
func GetToken(cfg *Config) (string, error) {
	for _, name := range tokenEnvVars {
		if tok := os.Getenv(name); tok != "" {
			return tok, nil
		}
	}

	if cfg != nil && cfg.CI.Token != "" {
		tok := os.ExpandEnv(cfg.CI.Token)
		if tok != "" && !strings.HasPrefix(tok, "${") {
			return tok, nil
		}
	}

	return "", ErrNoToken
}

// MaskToken returns a masked version of the token for display.
// Shows the first 4 and last 4 characters.
func MaskToken(tok string) string {
	if tok == "" {
		return "(not set)"
	}
	if len(tok) <= 12 {
		return "***"
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}

// TokenSource represents where a token was loaded from.
type TokenSource string

const (
	TokenSourceEnv    TokenSource = "environment"
	TokenSourceConfig TokenSource = "config_file"
	TokenSourceNone   TokenSource = "none"
)

// GetTokenSource returns where the token was sourced from.
func GetTokenSource(cfg *Config) TokenSource {
	for _, name := range tokenEnvVars {
		if os.Getenv(name) != "" {
			return TokenSourceEnv
		}
	}

	if cfg != nil && cfg.CI.Token != "" {
		tok := os.ExpandEnv(cfg.CI.Token)
		if tok != "" && !strings.HasPrefix(tok, "${") {
			return TokenSourceConfig
		}
	}

	return TokenSourceNone
}
