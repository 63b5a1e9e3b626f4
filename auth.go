package pushover

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
)

// deviceOS identifies an Open Client desktop device to the service.
const deviceOS = "O"

// authSession logs in and registers the device.
type authSession struct {
	api *apiClient
	log zerolog.Logger
}

func newAuthSession(api *apiClient, logger zerolog.Logger) *authSession {
	return &authSession{api: api, log: logger}
}

// login exchanges the account email and password for a session secret.
func (a *authSession) login(ctx context.Context, email, password string) (string, error) {
	body, err := a.api.post(ctx, "login", a.api.endpoint(loginPath), url.Values{
		"email":    {email},
		"password": {password},
	})
	if err != nil {
		if f, ok := err.(*Failure); ok {
			f.Detail = fmt.Sprintf("login error for %s: %s", email, f.Detail)
		}
		return "", err
	}

	var resp struct {
		Secret string `json:"secret"`
	}
	if err := decodeResponse("login", body, &resp); err != nil {
		return "", err
	}
	if resp.Secret == "" {
		return "", newFailure(ErrDecode, "login", "response carries no secret", nil)
	}

	a.log.Info().Str("email", email).Msg("logged in")
	return resp.Secret, nil
}

// registerDevice registers a fresh desktop device and returns its id.
func (a *authSession) registerDevice(ctx context.Context, secret, name string) (string, error) {
	body, err := a.api.post(ctx, "register", a.api.endpoint(devicesPath), url.Values{
		"secret": {secret},
		"name":   {name},
		"os":     {deviceOS},
	})
	if err != nil {
		if f, ok := err.(*Failure); ok {
			f.Detail = fmt.Sprintf("device registration error for %s: %s", name, f.Detail)
		}
		return "", err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := decodeResponse("register", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", newFailure(ErrDecode, "register", "response carries no device id", nil)
	}

	a.log.Info().Str("device_name", name).Str("device_id", resp.ID).Msg("device registered")
	return resp.ID, nil
}
