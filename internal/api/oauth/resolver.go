package oauth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/trackwatch/trackwatch/internal/setup/config"
	"go.uber.org/zap"
)

// ChunkSize is the hard upstream limit on ids per display-name lookup.
const ChunkSize = 50

// Requester executes authorized JSON calls. Implemented by auth.Client.
type Requester interface {
	DoJSON(ctx context.Context, method, url string, body, out any) error
}

// Resolver translates account ids to display names through the third-party
// API, batching ids up to the upstream chunk limit.
type Resolver struct {
	requester Requester
	cfg       *config.OAuth
	logger    *zap.Logger
}

// NewResolver creates a display-name resolver.
func NewResolver(requester Requester, cfg *config.OAuth, logger *zap.Logger) *Resolver {
	return &Resolver{
		requester: requester,
		cfg:       cfg,
		logger:    logger.Named("api_names"),
	}
}

// ResolveNames returns display names for the given account ids. Ids are
// chunked to the upstream limit; a failing chunk is skipped so the caller
// still gets every name the other chunks resolved.
func (r *Resolver) ResolveNames(ctx context.Context, accountIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(accountIDs))

	for start := 0; start < len(accountIDs); start += ChunkSize {
		end := min(start+ChunkSize, len(accountIDs))
		chunk := accountIDs[start:end]

		resolved, err := r.resolveChunk(ctx, chunk)
		if err != nil {
			r.logger.Warn("Skipping failed display-name chunk",
				zap.Int("chunkStart", start),
				zap.Int("chunkSize", len(chunk)),
				zap.Error(err))

			continue
		}

		for id, name := range resolved {
			names[id] = name
		}
	}

	return names, nil
}

func (r *Resolver) resolveChunk(ctx context.Context, accountIDs []string) (map[string]string, error) {
	query := url.Values{}
	for _, id := range accountIDs {
		query.Add("accountId[]", id)
	}

	endpoint := r.cfg.BaseURL + "/display-names?" + query.Encode()

	var resp map[string]string
	if err := r.requester.DoJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	return resp, nil
}
