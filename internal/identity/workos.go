package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

// WorkOSConfig configures the hosted AuthKit integration.
type WorkOSConfig struct {
	APIKey      string
	ClientID    string
	RedirectURI string
}

// workosAuthenticator implements Authenticator against WorkOS User
// Management with the hosted AuthKit login page.
type workosAuthenticator struct {
	client      *usermanagement.Client
	clientID    string
	redirectURI string
}

// NewWorkOSAuthenticator creates the WorkOS-backed authenticator.
func NewWorkOSAuthenticator(cfg WorkOSConfig) Authenticator {
	return &workosAuthenticator{
		client:      usermanagement.NewClient(cfg.APIKey),
		clientID:    cfg.ClientID,
		redirectURI: cfg.RedirectURI,
	}
}

func (a *workosAuthenticator) AuthorizationURL(state string) (string, error) {
	u, err := a.client.GetAuthorizationURL(usermanagement.GetAuthorizationURLOpts{
		ClientID:    a.clientID,
		RedirectURI: a.redirectURI,
		Provider:    "authkit",
		State:       state,
	})
	if err != nil {
		return "", fmt.Errorf("workos authorization url: %w", err)
	}
	return u.String(), nil
}

func (a *workosAuthenticator) Authenticate(ctx context.Context, code string) (*User, error) {
	resp, err := a.client.AuthenticateWithCode(ctx, usermanagement.AuthenticateWithCodeOpts{
		ClientID: a.clientID,
		Code:     code,
	})
	if err != nil {
		return nil, fmt.Errorf("workos authenticate: %w", err)
	}
	name := strings.TrimSpace(resp.User.FirstName + " " + resp.User.LastName)
	if name == "" {
		name = resp.User.Email
	}
	return &User{
		ID:    resp.User.ID,
		Email: resp.User.Email,
		Name:  name,
	}, nil
}
