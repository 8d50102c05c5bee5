package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
)

// oauthCredentials is the opaque credential blob stored on the connector row
// for OAuth sources. The store never inspects it.
type oauthCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func marshalToken(tok *oauth2.Token) ([]byte, error) {
	if tok == nil {
		return nil, fmt.Errorf("nil token")
	}
	return json.Marshal(oauthCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	})
}

func unmarshalToken(raw []byte) (*oauth2.Token, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty credentials: %w", apperr.ErrUnauthorized)
	}
	var c oauthCredentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, fmt.Errorf("credentials missing access token: %w", apperr.ErrUnauthorized)
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}, nil
}

// oauthSession owns the token for one connector instance. Refreshes happen
// through the oauth2 TokenSource; onRefresh persists the rotated token so the
// next run does not repeat the refresh.
type oauthSession struct {
	cfg       *oauth2.Config
	token     *oauth2.Token
	onRefresh func(ctx context.Context, creds []byte) error
}

func newOAuthSession(cfg *oauth2.Config, creds []byte, onRefresh func(ctx context.Context, creds []byte) error) (*oauthSession, error) {
	tok, err := unmarshalToken(creds)
	if err != nil {
		return nil, err
	}
	return &oauthSession{cfg: cfg, token: tok, onRefresh: onRefresh}, nil
}

// AccessToken returns a live token, refreshing once when expired. A refresh
// failure maps to ErrAuthExpired so the orchestrator marks the connector.
func (s *oauthSession) AccessToken(ctx context.Context) (string, error) {
	if s.token.Valid() {
		return s.token.AccessToken, nil
	}
	if s.token.RefreshToken == "" {
		return "", fmt.Errorf("token expired with no refresh token: %w", apperr.ErrAuthExpired)
	}

	fresh, err := s.cfg.TokenSource(ctx, s.token).Token()
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", apperr.ErrAuthExpired)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.token.RefreshToken
	}
	s.token = fresh

	if s.onRefresh != nil {
		if raw, mErr := marshalToken(fresh); mErr == nil {
			if pErr := s.onRefresh(ctx, raw); pErr != nil {
				return "", fmt.Errorf("persist refreshed token: %w", pErr)
			}
		}
	}
	return s.token.AccessToken, nil
}

func oauthAuthURL(cfg *oauth2.Config, redirect, state string) string {
	if cfg == nil {
		return ""
	}
	c := *cfg
	c.RedirectURL = redirect
	return c.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func oauthExchange(ctx context.Context, cfg *oauth2.Config, code, redirect string) ([]byte, error) {
	if cfg == nil {
		return nil, ErrAuthNotSupported
	}
	c := *cfg
	c.RedirectURL = redirect
	tok, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}
	return marshalToken(tok)
}
