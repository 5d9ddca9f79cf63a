package types

import (
	"time"

	"github.com/uptrace/bun"
)

// JobStatus is the lifecycle state of a crawl job. Transitions are
// forward-only: pending -> processing -> completed or failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status allows no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving to the next status keeps the
// lifecycle forward-only.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// CrawlJob is one asynchronous map+leaderboard crawl request. Created
// pending by the request path and mutated only by the crawl runner.
type CrawlJob struct {
	bun.BaseModel `bun:"table:jobs"`

	JobID        string       `bun:",pk,type:uuid"`
	Username     string       `bun:",notnull"`
	Period       string       `bun:",notnull"`
	Status       JobStatus    `bun:",notnull"`
	CreatedAt    time.Time    `bun:",notnull"`
	UpdatedAt    time.Time    `bun:",notnull"`
	Result       *CrawlResult `bun:",nullzero,type:jsonb"`
	ErrorMessage string       `bun:",type:text"`
}

// CrawlResult is the aggregate stored on a completed job.
type CrawlResult struct {
	Username string          `json:"username"`
	Period   string          `json:"period"`
	Maps     []CrawledMap    `json:"maps"`
	Names    map[string]string `json:"names"` // account id -> display name
}

// CrawledMap is one map plus its leaderboard entries inside the crawl window.
type CrawledMap struct {
	MapID   int64            `json:"mapId"`
	MapUID  string           `json:"mapUid"`
	Name    string           `json:"name"`
	Records []LeaderboardRow `json:"records"`
}

// LeaderboardRow is one ranked leaderboard entry as stored in crawl results
// and daily snapshots.
type LeaderboardRow struct {
	AccountID   string    `json:"accountId"`
	Login       string    `json:"login"`
	DisplayName string    `json:"displayName,omitempty"`
	Position    int       `json:"position"`
	Score       int       `json:"score"`
	Timestamp   time.Time `json:"timestamp"`
	ZoneName    string    `json:"zoneName"`
}
