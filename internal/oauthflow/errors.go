package oauthflow

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowNotFound means no authorization is in flight for (connector, user),
	// either because it was never started or because it expired.
	ErrFlowNotFound = errors.New("no authorization flow in progress")
	// ErrStateMismatch means the callback state does not match the nonce
	// issued when the flow started.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrInsecureCallback rejects plain-http callback URLs unless insecure
	// transport was explicitly allowed.
	ErrInsecureCallback = errors.New("callback url must use https")
	// ErrNoRefreshToken means the connection has no refresh token on file.
	ErrNoRefreshToken = errors.New("connection has no refresh token")
)

// ConfigError reports a connector configuration that cannot produce a valid
// request: a missing credential, URL or template value.
type ConfigError struct {
	Connector string
	Field     string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("connector %s: %s", e.Connector, e.Reason)
	}
	return fmt.Sprintf("connector %s: %s: %s", e.Connector, e.Field, e.Reason)
}

// TokenExchangeError is a provider rejection of a code or refresh-token
// exchange. StatusCode is zero when the provider was never reached or
// answered on the redirect instead of the token endpoint.
type TokenExchangeError struct {
	Connector   string
	Grant       string
	StatusCode  int
	Body        string
	ErrorCode   string
	Description string
	Err         error
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("%s token exchange for %s failed", e.Grant, e.Connector)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.ErrorCode != "" {
		msg += ": " + e.ErrorCode
		if e.Description != "" {
			msg += ": " + e.Description
		}
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// ErrInvalidCallback means the callback URL could not be parsed or carried
// no authorization code.
var ErrInvalidCallback = errors.New("invalid callback url")
