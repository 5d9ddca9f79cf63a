package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/trackwatch/trackwatch/internal/database/types"
	"go.uber.org/zap"
)

// TokenStore is the persistence surface the cache needs. Implemented by the
// database token model.
type TokenStore interface {
	GetToken(ctx context.Context, provider types.TokenProvider, kind types.TokenKind) (*types.APIToken, error)
	ReplaceTokens(ctx context.Context, provider types.TokenProvider, accessToken, refreshToken string) error
}

// Cache hands out usable access tokens for a provider, refreshing or
// re-logging-in as needed. An access token younger than 24h is reused without
// a liveness check; both grant paths overwrite the cached pair wholesale.
type Cache struct {
	store  TokenStore
	logger *zap.Logger
}

// NewCache creates a token cache backed by the given store.
func NewCache(store TokenStore, logger *zap.Logger) *Cache {
	return &Cache{
		store:  store,
		logger: logger.Named("token_cache"),
	}
}

// ValidToken returns a usable access token for the provider, reusing the
// cached one when fresh and renewing otherwise.
func (c *Cache) ValidToken(ctx context.Context, provider Provider) (string, error) {
	cached, err := c.store.GetToken(ctx, provider.Name(), types.TokenKindAccess)
	if err != nil {
		return "", fmt.Errorf("failed to read cached token: %w", err)
	}

	if cached != nil && cached.IsFresh() {
		return cached.Token, nil
	}

	return c.Renew(ctx, provider)
}

// Renew obtains a new grant: first via the stored refresh token, falling back
// to a full credential login when refresh fails or no refresh token exists.
// The new pair overwrites the cache atomically.
func (c *Cache) Renew(ctx context.Context, provider Provider) (string, error) {
	grant, err := c.tryRefresh(ctx, provider)
	if err != nil {
		c.logger.Debug("Token refresh unavailable, performing full login",
			zap.String("provider", string(provider.Name())),
			zap.Error(err))

		grant, err = provider.Login(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to login: %w", err)
		}
	}

	if err := c.store.ReplaceTokens(ctx, provider.Name(), grant.AccessToken, grant.RefreshToken); err != nil {
		return "", fmt.Errorf("failed to store tokens: %w", err)
	}

	return grant.AccessToken, nil
}

func (c *Cache) tryRefresh(ctx context.Context, provider Provider) (*Grant, error) {
	refresh, err := c.store.GetToken(ctx, provider.Name(), types.TokenKindRefresh)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	if refresh == nil {
		return nil, errors.New("no refresh token cached")
	}

	grant, err := provider.Refresh(ctx, refresh.Token)
	if err != nil {
		return nil, fmt.Errorf("refresh failed: %w", err)
	}

	return grant, nil
}
