package types

import (
	"time"

	"github.com/uptrace/bun"
)

// AlertType selects the diffing mode for a mapper subscription.
type AlertType string

const (
	// AlertTypeAccurate diffs full leaderboard contents each run.
	AlertTypeAccurate AlertType = "accurate"
	// AlertTypeInaccurate diffs only a sentinel-score rank as a change proxy.
	AlertTypeInaccurate AlertType = "inaccurate"
)

// RecordFilter restricts which leaderboard entries an accurate-mode run reports.
type RecordFilter string

const (
	RecordFilterTop5 RecordFilter = "top5"
	RecordFilterWR   RecordFilter = "wr"
	RecordFilterAll  RecordFilter = "all"
)

// Matches reports whether a leaderboard position passes the filter.
func (f RecordFilter) Matches(position int) bool {
	switch f {
	case RecordFilterTop5:
		return position <= 5
	case RecordFilterWR:
		return position == 1
	default:
		return true
	}
}

// AlertSubscription is a mapper's notification subscription. The alert type
// is flipped to inaccurate by auto-promotion past the map-count threshold or
// by admin override.
type AlertSubscription struct {
	bun.BaseModel `bun:"table:alerts"`

	AlertID      int64        `bun:",pk,autoincrement"`
	Username     string       `bun:",notnull,unique"`
	Email        string       `bun:",notnull"`
	AlertType    AlertType    `bun:",notnull"`
	MapCount     int          `bun:",notnull"`
	RecordFilter RecordFilter `bun:",notnull"`
	CreatedAt    time.Time    `bun:",notnull"`
	UpdatedAt    time.Time    `bun:",notnull"`
}

// AlertMap associates one tracked map with an inaccurate-mode subscription.
type AlertMap struct {
	bun.BaseModel `bun:"table:alert_maps"`

	AlertID int64  `bun:",pk"`
	MapUID  string `bun:",pk"`
}
