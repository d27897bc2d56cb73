package api

import (
	"crypto/subtle"
	"errors"
	"os"
	"strconv"
)

const (
	envAuthUsername = "AUTH_USERNAME"
	envAuthPassword = "AUTH_PASSWORD"
	envAuthDisabled = "AUTH_DISABLED"
)

var errInvalidCredentials = errors.New("invalid credentials")

// Auth checks HTTP Basic credentials against the single configured
// username/password pair.
type Auth struct {
	username []byte
	password []byte
	disabled bool
}

// NewAuth creates an Auth accepting exactly the given pair.
func NewAuth(username, password string) *Auth {
	return &Auth{username: []byte(username), password: []byte(password)}
}

// NewAuthFromEnv reads the credential pair from AUTH_USERNAME and
// AUTH_PASSWORD. Setting AUTH_DISABLED=true accepts every request and is
// meant for local development only.
func NewAuthFromEnv() (*Auth, error) {
	if disabled, err := strconv.ParseBool(os.Getenv(envAuthDisabled)); err == nil && disabled {
		return &Auth{disabled: true}, nil
	}
	username := os.Getenv(envAuthUsername)
	password := os.Getenv(envAuthPassword)
	if username == "" || password == "" {
		return nil, errors.New("AUTH_USERNAME and AUTH_PASSWORD must be set unless AUTH_DISABLED=true")
	}
	return NewAuth(username, password), nil
}

// Disabled reports whether every request is let through.
func (a *Auth) Disabled() bool {
	return a.disabled
}

// Authorize validates the raw Authorization header value.
func (a *Auth) Authorize(h string) error {
	if a.disabled {
		return nil
	}
	if h == "" {
		return errMissingAuthorization
	}
	user, pass, err := basicCredentialsFromString(h)
	if err != nil {
		return err
	}
	// compare both halves so timing does not reveal which one was wrong
	userOK := subtle.ConstantTimeCompare(user, a.username) == 1
	passOK := subtle.ConstantTimeCompare(pass, a.password) == 1
	if !userOK || !passOK {
		return errInvalidCredentials
	}
	return nil
}
