package httpserver

import (
	"errors"
	"time"
)

// Config carries the HTTP façade settings.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	RequestTimeout    time.Duration
}

// Validate checks the configuration before the server boots.
func (config Config) Validate() error {
	if config.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if config.SessionSigningKey == "" {
		return errors.New("session signing key is required")
	}
	if config.SessionIssuer == "" {
		return errors.New("session issuer is required")
	}
	if config.SessionCookieName == "" {
		return errors.New("session cookie name is required")
	}
	if config.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	return nil
}
