package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/database/dbretry"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// TokenModel handles database operations for cached provider tokens.
type TokenModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewToken creates a new TokenModel instance.
func NewToken(db *bun.DB, logger *zap.Logger) *TokenModel {
	return &TokenModel{
		db:     db,
		logger: logger.Named("db_token"),
	}
}

// GetToken retrieves the cached token of the given kind for a provider.
// Returns nil without error when no token is cached.
func (m *TokenModel) GetToken(
	ctx context.Context, provider types.TokenProvider, kind types.TokenKind,
) (*types.APIToken, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.APIToken, error) {
		var token types.APIToken

		err := m.db.NewSelect().
			Model(&token).
			Where("provider = ?", provider).
			Where("kind = ?", kind).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}

			return nil, fmt.Errorf("failed to get token: %w", err)
		}

		return &token, nil
	})
}

// ReplaceTokens overwrites a provider's cached token pair atomically.
// The access token is always written; the refresh token only when the
// provider issued a new one.
func (m *TokenModel) ReplaceTokens(
	ctx context.Context, provider types.TokenProvider, accessToken, refreshToken string,
) error {
	now := time.Now()

	rows := []*types.APIToken{{
		Provider:  provider,
		Kind:      types.TokenKindAccess,
		Token:     accessToken,
		CreatedAt: now,
	}}

	if refreshToken != "" {
		rows = append(rows, &types.APIToken{
			Provider:  provider,
			Kind:      types.TokenKindRefresh,
			Token:     refreshToken,
			CreatedAt: now,
		})
	}

	return dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&rows).
			On("CONFLICT (provider, kind) DO UPDATE").
			Set("token = EXCLUDED.token").
			Set("created_at = EXCLUDED.created_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to replace tokens: %w", err)
		}

		return nil
	})
}
