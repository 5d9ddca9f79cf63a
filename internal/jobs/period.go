package jobs

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned for crawl periods that parse to nothing.
var ErrInvalidPeriod = errors.New("invalid crawl period")

// periodAliases maps the common shorthand periods to trailing windows.
var periodAliases = map[string]time.Duration{
	"daily":   24 * time.Hour,
	"weekly":  7 * 24 * time.Hour,
	"monthly": 30 * 24 * time.Hour,
}

// ParsePeriod converts a crawl period into a trailing time window. Accepts
// the shorthand aliases plus any Go duration string.
func ParsePeriod(period string) (time.Duration, error) {
	if window, ok := periodAliases[period]; ok {
		return window, nil
	}

	window, err := time.ParseDuration(period)
	if err != nil || window <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}

	return window, nil
}
