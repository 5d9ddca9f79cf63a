package types

import (
	"time"

	"github.com/uptrace/bun"
)

// HistoryKind classifies a notification-history entry.
type HistoryKind string

const (
	HistoryKindNewRecord      HistoryKind = "new_record"
	HistoryKindImproved       HistoryKind = "improved"
	HistoryKindBeaten         HistoryKind = "beaten"
	HistoryKindTechnicalError HistoryKind = "technical_error"
)

// NotificationHistory is the audit trail of emitted notices and per-user
// phase failures.
type NotificationHistory struct {
	bun.BaseModel `bun:"table:notification_history"`

	ID        int64       `bun:",pk,autoincrement"`
	Username  string      `bun:",notnull"`
	Kind      HistoryKind `bun:",notnull"`
	MapUID    string      `bun:""`
	Detail    string      `bun:",type:text"`
	CreatedAt time.Time   `bun:",notnull"`
}
