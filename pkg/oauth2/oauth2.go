package oauth2

import (
	"errors"
	"fmt"
	"log/slog"
)

type TokenType string

const (
	TokenTypeBearer TokenType = "Bearer"
	// issued to bot accounts, never as the result of a code exchange
	TokenTypeBot TokenType = "Bot"
)

// TokenResponse is the body returned by the token endpoint. It lives only for the
// duration of a callback and must never leave the exchange.
type TokenResponse struct {
	TokenType    TokenType `json:"token_type"`
	AccessToken  string    `json:"access_token"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"refresh_token"`
	Scope        string    `json:"scope"`
	// set by the provider when it declines the code in-band
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (t TokenResponse) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token_type", string(t.TokenType)),
		slog.Int("expires_in", t.ExpiresIn),
		slog.String("scope", t.Scope),
		slog.Bool("has_access_token", t.AccessToken != ""),
	)
}

// Error as rendered by an authorization server.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ErrNoToken reports that the provider answered the token request without an
// access token, i.e. it declined the authorization code.
var ErrNoToken = errors.New("token response carries no access token")

type ExchangeErrorKind string

const (
	ExchangeErrorNetwork           ExchangeErrorKind = "network"
	ExchangeErrorMalformedResponse ExchangeErrorKind = "malformed_response"
	ExchangeErrorProfileFetch      ExchangeErrorKind = "profile_fetch"
)

type ExchangeError struct {
	Kind ExchangeErrorKind
	Err  error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("code exchange failed (%s): %v", e.Kind, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

func exchangeError(kind ExchangeErrorKind, format string, a ...any) *ExchangeError {
	return &ExchangeError{Kind: kind, Err: fmt.Errorf(format, a...)}
}
