package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"github.com/trackwatch/trackwatch/pkg/utils"
	"go.uber.org/zap"
)

// ErrUnexpectedStatusCode is returned when the catalog API responds with a
// non-200 status.
var ErrUnexpectedStatusCode = errors.New("unexpected status code")

// CatalogMap is one map in the community catalog.
type CatalogMap struct {
	MapID  int64  `json:"MapId"`
	MapUID string `json:"MapUid"`
	Name   string `json:"Name"`
}

type catalogPage struct {
	Results []CatalogMap `json:"Results"`
	More    bool         `json:"More"`
}

// Client walks the community map catalog. The catalog is public, so no token
// cache sits in front of it, but the upstream throttles aggressively; whole
// walks are retried on a deliberately slow constant interval.
type Client struct {
	http   *http.Client
	cfg    *config.Exchange
	logger *zap.Logger
}

// NewClient creates a map catalog client.
func NewClient(cfg *config.Exchange, logger *zap.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: time.Duration(cfg.RequestTimeout) * time.Millisecond},
		cfg:    cfg,
		logger: logger.Named("api_catalog"),
	}
}

// GetAuthorMaps walks the full catalog for one author, following the
// continuation cursor until More clears. Any page failure restarts the whole
// walk; the walk is attempted up to WalkRetries+1 times with a constant
// WalkRetryDelay between attempts.
func (c *Client) GetAuthorMaps(ctx context.Context, author string) ([]CatalogMap, error) {
	interval := time.Duration(c.cfg.WalkRetryDelay) * time.Minute

	maps, err := utils.WithConstantRetry(ctx, func() ([]CatalogMap, error) {
		maps, err := c.walk(ctx, author)
		if err != nil {
			c.logger.Warn("Catalog walk failed, will retry",
				zap.String("author", author),
				zap.Duration("retryIn", interval),
				zap.Error(err))

			return nil, err
		}

		return maps, nil
	}, interval, uint64(c.cfg.WalkRetries))
	if err != nil {
		return nil, fmt.Errorf("catalog walk exhausted retries for author %s: %w", author, err)
	}

	return maps, nil
}

// walk performs one full cursor walk.
func (c *Client) walk(ctx context.Context, author string) ([]CatalogMap, error) {
	var (
		maps   []CatalogMap
		cursor int
	)

	for {
		page, err := c.fetchPage(ctx, author, cursor)
		if err != nil {
			return nil, err
		}

		maps = append(maps, page.Results...)

		if !page.More {
			return maps, nil
		}

		cursor += len(page.Results)
	}
}

func (c *Client) fetchPage(ctx context.Context, author string, cursor int) (*catalogPage, error) {
	query := url.Values{
		"author": {author},
		"after":  {fmt.Sprintf("%d", cursor)},
		"count":  {fmt.Sprintf("%d", c.cfg.PageSize)},
	}

	endpoint := c.cfg.BaseURL + "/maps?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatusCode, resp.StatusCode, string(body))
	}

	var page catalogPage
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("error decoding catalog page: %w", err)
	}

	return &page, nil
}
