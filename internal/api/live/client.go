package live

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"go.uber.org/zap"
)

// SentinelScore is the reserved just-joined score probed in inaccurate mode.
// Its assigned rank moves whenever a new player enters the board below the
// existing field, which is the only signal that mode needs.
const SentinelScore = 2147483646

// Requester executes authorized JSON calls. Implemented by auth.Client.
type Requester interface {
	DoJSON(ctx context.Context, method, url string, body, out any) error
}

// Probe is the rank the upstream assigns to the sentinel score on one map.
type Probe struct {
	Position int `json:"position"`
	Score    int `json:"score"`
}

// Client fetches leaderboards from the first-party game API.
type Client struct {
	requester Requester
	cfg       *config.Live
	logger    *zap.Logger
}

// NewClient creates a leaderboard API client.
func NewClient(requester Requester, cfg *config.Live, logger *zap.Logger) *Client {
	return &Client{
		requester: requester,
		cfg:       cfg,
		logger:    logger.Named("api_leaderboard"),
	}
}

// GetTop fetches the top entries of one map's leaderboard, best time first.
func (c *Client) GetTop(ctx context.Context, mapUID string, length int) ([]types.LeaderboardRow, error) {
	endpoint := fmt.Sprintf(
		"%s/leaderboards/%s/top?length=%d", c.cfg.BaseURL, url.PathEscape(mapUID), length,
	)

	var resp struct {
		Records []types.LeaderboardRow `json:"records"`
	}

	if err := c.requester.DoJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch leaderboard for map %s: %w", mapUID, err)
	}

	return resp.Records, nil
}

// ProbePositions fetches the sentinel-score rank for each given map in one
// call. Maps absent from the response carry no signal and are simply missing
// from the result.
func (c *Client) ProbePositions(ctx context.Context, mapUIDs []string) (map[string]Probe, error) {
	if len(mapUIDs) == 0 {
		return map[string]Probe{}, nil
	}

	endpoint := c.cfg.BaseURL + "/leaderboards/surround?score=" + strconv.Itoa(SentinelScore)

	body := struct {
		MapUIDs []string `json:"mapUids"`
	}{MapUIDs: mapUIDs}

	// Upstream keys each map to a slice of surrounding entries; only the
	// first (the sentinel's own rank) matters here.
	var resp map[string][]Probe

	if err := c.requester.DoJSON(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to probe sentinel positions: %w", err)
	}

	probes := make(map[string]Probe, len(resp))

	for mapUID, entries := range resp {
		if len(entries) == 0 {
			continue
		}

		probes[mapUID] = entries[0]
	}

	return probes, nil
}
