package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/setup/config"
)

var (
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrRefreshUnsupported is returned by providers whose grant has no
	// refresh token; the cache falls back to a full login.
	ErrRefreshUnsupported = errors.New("provider does not support token refresh")
)

// defaultAuthTimeout bounds token endpoint calls when no request timeout is
// configured.
const defaultAuthTimeout = 10 * time.Second

func newHTTPClient(timeoutMillis int) *http.Client {
	timeout := defaultAuthTimeout
	if timeoutMillis > 0 {
		timeout = time.Duration(timeoutMillis) * time.Millisecond
	}

	return &http.Client{Timeout: timeout}
}

// Grant is the token pair issued by a provider. RefreshToken is empty when
// the grant strategy does not issue one.
type Grant struct {
	AccessToken  string
	RefreshToken string
}

// Provider obtains token grants for one upstream namespace. The two
// implementations (live session auth, OAuth2 client credentials) never share
// cached state because each carries its own types.TokenProvider name.
type Provider interface {
	Name() types.TokenProvider
	// Login performs a full credential login.
	Login(ctx context.Context) (*Grant, error)
	// Refresh exchanges a refresh token for a new grant.
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// LiveProvider authenticates against the first-party game API with basic
// credentials and keeps the session alive via its refresh endpoint.
type LiveProvider struct {
	cfg    *config.Live
	client *http.Client
}

// NewLiveProvider creates a provider for the first-party session auth.
func NewLiveProvider(cfg *config.Live) *LiveProvider {
	return &LiveProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.RequestTimeout),
	}
}

// Name returns the live token namespace.
func (p *LiveProvider) Name() types.TokenProvider {
	return types.TokenProviderLive
}

// Login performs a basic-auth credential login.
func (p *LiveProvider) Login(ctx context.Context) (*Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.LoginURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating login request: %w", err)
	}

	req.SetBasicAuth(p.cfg.Username, p.cfg.Password)

	return p.execute(req)
}

// Refresh exchanges the stored refresh token for a fresh session pair.
func (p *LiveProvider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RefreshURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating refresh request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+refreshToken)

	return p.execute(req)
}

func (p *LiveProvider) execute(req *http.Request) (*Grant, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatusCode, resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}

	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding auth response: %w", err)
	}

	return &Grant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}, nil
}

// OAuthProvider authenticates against the third-party API with the OAuth2
// client-credentials grant. The grant carries no refresh token, so refreshing
// is a re-login.
type OAuthProvider struct {
	cfg    *config.OAuth
	client *http.Client
}

// NewOAuthProvider creates a provider for the client-credentials grant.
func NewOAuthProvider(cfg *config.OAuth) *OAuthProvider {
	return &OAuthProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.RequestTimeout),
	}
}

// Name returns the oauth token namespace.
func (p *OAuthProvider) Name() types.TokenProvider {
	return types.TokenProviderOAuth
}

// Login performs a client-credentials token request.
func (p *OAuthProvider) Login(ctx context.Context) (*Grant, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, p.cfg.TokenURL, bytes.NewBufferString(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatusCode, resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}

	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding token response: %w", err)
	}

	if !strings.EqualFold(payload.TokenType, "bearer") && payload.TokenType != "" {
		return nil, fmt.Errorf("%w: unsupported token type %q", ErrUnexpectedStatusCode, payload.TokenType)
	}

	return &Grant{AccessToken: payload.AccessToken}, nil
}

// Refresh is unsupported for client-credentials grants.
func (p *OAuthProvider) Refresh(context.Context, string) (*Grant, error) {
	return nil, ErrRefreshUnsupported
}
