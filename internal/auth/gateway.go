// Package auth orchestrates login and logout against the remote API and
// keeps the session store in step with the outcome.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bekircanbozkurt/flight-app-client/internal/api"
	"github.com/bekircanbozkurt/flight-app-client/internal/models"
	"github.com/bekircanbozkurt/flight-app-client/internal/session"
)

const minPasswordLength = 8

// Credentials are the login form inputs.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// FieldErrors maps an input field to its error messages, for inline display
// beside the corresponding form field.
type FieldErrors map[string][]string

// FieldError is a login failure carrying field-level detail. Both local
// validation failures and server-side rejections surface as *FieldError.
type FieldError struct {
	Fields FieldErrors
}

func (e *FieldError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	return fmt.Sprintf("login failed (fields: %s)", strings.Join(fields, ", "))
}

// Gateway runs the login and logout flows.
type Gateway struct {
	client   *api.Client
	sessions *session.Store
	log      zerolog.Logger
}

// NewGateway creates a gateway over the given transport and session store.
func NewGateway(client *api.Client, sessions *session.Store, log zerolog.Logger) *Gateway {
	return &Gateway{client: client, sessions: sessions, log: log}
}

// loginResponse is the wire shape of a successful login.
type loginResponse struct {
	AccessToken string              `json:"accessToken"`
	User        *models.UserProfile `json:"user"`
}

// Login validates the credentials, posts them to the API and records the
// returned profile in the session store before returning. Failures surface as
// *FieldError so callers can render them beside the inputs.
func (g *Gateway) Login(ctx context.Context, creds Credentials) (*models.UserProfile, error) {
	if fields := validateCredentials(creds); len(fields) > 0 {
		return nil, &FieldError{Fields: fields}
	}

	var resp loginResponse
	if err := g.client.Post(ctx, "/auth/login", creds, &resp); err != nil {
		return nil, g.mapTransportError(err)
	}

	// A 2xx response without a user object is a contract violation, not a
	// reason to crash.
	if resp.User == nil {
		g.log.Warn().Msg("login response missing user profile")
		return nil, &FieldError{Fields: FieldErrors{
			"email": {"Invalid login response from server"},
		}}
	}

	if err := g.sessions.Set(resp.User); err != nil {
		// The in-memory session is already in place; persistence failure only
		// costs the profile surviving a restart.
		g.log.Warn().Err(err).Msg("profile not persisted")
	}

	g.log.Info().Str("user", resp.User.Email).Msg("login succeeded")
	return resp.User, nil
}

// Logout posts the logout and clears the session store unconditionally: the
// local session must end even when the server is unreachable. A transport
// failure is returned after the clear so the caller can still warn.
func (g *Gateway) Logout(ctx context.Context) error {
	transportErr := g.client.Post(ctx, "/auth/logout", nil, nil)

	if err := g.sessions.Clear(); err != nil {
		g.log.Warn().Err(err).Msg("session slot not cleared")
	}

	if transportErr != nil {
		g.log.Warn().Err(transportErr).Msg("remote logout failed, local session cleared anyway")
		return transportErr
	}

	g.log.Info().Msg("logout succeeded")
	return nil
}

// validateCredentials checks the shape of the inputs before any network call.
func validateCredentials(creds Credentials) FieldErrors {
	fields := FieldErrors{}

	if _, err := mail.ParseAddress(creds.Email); err != nil {
		fields["email"] = append(fields["email"], "Enter a valid email address")
	}
	if len(creds.Password) < minPasswordLength {
		fields["password"] = append(fields["password"], "Password must be at least 8 characters")
	}

	return fields
}

// mapTransportError converts an API failure into field-level errors: server
// field detail when present, otherwise a single generic error on the email
// field.
func (g *Gateway) mapTransportError(err error) error {
	apiErr := &api.Error{}
	if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
		return &FieldError{Fields: apiErr.Fields}
	}

	message := "An error occurred"
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		message = apiErr.Message
	}

	return &FieldError{Fields: FieldErrors{"email": {message}}}
}
