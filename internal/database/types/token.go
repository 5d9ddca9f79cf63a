package types

import (
	"time"

	"github.com/uptrace/bun"
)

// TokenProvider identifies which upstream a cached token belongs to.
// The two namespaces never share state.
type TokenProvider string

const (
	// TokenProviderLive is the first-party game API (session auth).
	TokenProviderLive TokenProvider = "live"
	// TokenProviderOAuth is the third-party API (client-credentials grant).
	TokenProviderOAuth TokenProvider = "oauth"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// AccessTokenMaxAge is how long an access token is reused without a liveness check.
const AccessTokenMaxAge = 24 * time.Hour

// APIToken is one cached token for a provider. At most one row exists per
// (provider, kind) pair; refresh and login overwrite the pair wholesale.
type APIToken struct {
	bun.BaseModel `bun:"table:api_tokens"`

	Provider  TokenProvider `bun:",pk"`
	Kind      TokenKind     `bun:",pk"`
	Token     string        `bun:",notnull,type:text"`
	CreatedAt time.Time     `bun:",notnull"`
}

// IsFresh reports whether the token is young enough to reuse without
// revalidating against the provider.
func (t *APIToken) IsFresh() bool {
	return time.Since(t.CreatedAt) < AccessTokenMaxAge
}
