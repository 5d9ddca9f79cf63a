package exchange_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackwatch/trackwatch/internal/api/exchange"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"go.uber.org/zap"
)

// catalogServer serves a fixed author catalog page by page, optionally
// failing the first N requests.
func catalogServer(t *testing.T, total, pageSize int, failFirst int) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n <= int64(failFirst) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		after, _ := strconv.Atoi(r.URL.Query().Get("after"))

		end := after + pageSize
		if end > total {
			end = total
		}

		results := make([]string, 0, end-after)
		for i := after; i < end; i++ {
			results = append(results, fmt.Sprintf(
				`{"MapId":%d,"MapUid":"uid-%d","Name":"Map %d"}`, i+1, i+1, i+1,
			))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"Results":[%s],"More":%t}`, joinJSON(results), end < total)
	}))

	return server, &requests
}

func joinJSON(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}

	return out
}

func TestGetAuthorMaps(t *testing.T) {
	t.Parallel()

	t.Run("follows the cursor until More clears", func(t *testing.T) {
		t.Parallel()

		server, requests := catalogServer(t, 25, 10, 0)
		defer server.Close()

		client := exchange.NewClient(&config.Exchange{
			BaseURL:        server.URL,
			PageSize:       10,
			WalkRetries:    5,
			WalkRetryDelay: 0,
			RequestTimeout: 5000,
		}, zap.NewNop())

		maps, err := client.GetAuthorMaps(context.Background(), "author1")
		require.NoError(t, err)
		require.Len(t, maps, 25)
		assert.Equal(t, int64(3), requests.Load())
		assert.Equal(t, "uid-1", maps[0].MapUID)
		assert.Equal(t, int64(25), maps[24].MapID)
		assert.Equal(t, "Map 25", maps[24].Name)
	})

	t.Run("retries the whole walk after a page failure", func(t *testing.T) {
		t.Parallel()

		// First two requests fail, so the first walk aborts and the second
		// succeeds end to end.
		server, requests := catalogServer(t, 12, 10, 2)
		defer server.Close()

		client := exchange.NewClient(&config.Exchange{
			BaseURL:        server.URL,
			PageSize:       10,
			WalkRetries:    5,
			WalkRetryDelay: 0,
			RequestTimeout: 5000,
		}, zap.NewNop())

		maps, err := client.GetAuthorMaps(context.Background(), "author1")
		require.NoError(t, err)
		require.Len(t, maps, 12)
		// walk1: fail page1; walk2: fail page1; walk3: page1+page2
		assert.Equal(t, int64(4), requests.Load())
	})

	t.Run("exhausted retry budget surfaces an error", func(t *testing.T) {
		t.Parallel()

		server, requests := catalogServer(t, 10, 10, 100)
		defer server.Close()

		client := exchange.NewClient(&config.Exchange{
			BaseURL:        server.URL,
			PageSize:       10,
			WalkRetries:    2,
			WalkRetryDelay: 0,
			RequestTimeout: 5000,
		}, zap.NewNop())

		_, err := client.GetAuthorMaps(context.Background(), "author1")
		require.ErrorIs(t, err, exchange.ErrUnexpectedStatusCode)
		// initial attempt + 2 retries
		assert.Equal(t, int64(3), requests.Load())
	})

	t.Run("empty catalog returns no maps", func(t *testing.T) {
		t.Parallel()

		server, _ := catalogServer(t, 0, 10, 0)
		defer server.Close()

		client := exchange.NewClient(&config.Exchange{
			BaseURL:        server.URL,
			PageSize:       10,
			WalkRetries:    0,
			RequestTimeout: 5000,
		}, zap.NewNop())

		maps, err := client.GetAuthorMaps(context.Background(), "author1")
		require.NoError(t, err)
		assert.Empty(t, maps)
	})
}
