package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

type OIDCAuthenticator struct {
	config      *oauth2.Config
	userInfoURL string
}

type userInfo struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Role    string   `json:"role"`
	Roles   []string `json:"roles"`
}

func NewOIDCAuthenticator(issuer, clientID, clientSecret, redirectURL string) (*OIDCAuthenticator, error) {
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC configuration incomplete")
	}
	issuer = strings.TrimRight(issuer, "/")

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  issuer + "/authorize",
			TokenURL: issuer + "/token",
		},
		Scopes: []string{"openid", "profile", "email"},
	}

	return &OIDCAuthenticator{
		config:      config,
		userInfoURL: issuer + "/userinfo",
	}, nil
}

func (a *OIDCAuthenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the signed-in principal.
// Users are coordinators unless the provider grants the admin role.
func (a *OIDCAuthenticator) Exchange(ctx context.Context, code string) (Principal, error) {
	if code == "" {
		return Principal{}, errors.New("authorization code missing")
	}
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return Principal{}, fmt.Errorf("exchange code: %w", err)
	}

	var info userInfo
	resp, err := resty.NewWithClient(a.config.Client(ctx, token)).R().
		SetContext(ctx).
		SetResult(&info).
		Get(a.userInfoURL)
	if err != nil {
		return Principal{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	if resp.IsError() {
		return Principal{}, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode())
	}
	if info.Subject == "" {
		return Principal{}, errors.New("userinfo missing subject")
	}

	role := RoleCoordinator
	if info.Role == RoleAdmin {
		role = RoleAdmin
	}
	for _, r := range info.Roles {
		if r == RoleAdmin {
			role = RoleAdmin
		}
	}
	return Principal{Subject: info.Subject, Email: info.Email, Name: info.Name, Role: role}, nil
}

func NewState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
