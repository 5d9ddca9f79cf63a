package types

import (
	"time"

	"github.com/uptrace/bun"
)

// OutboxStatus is the delivery state of a daily outbox row.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
)

// DailyOutbox aggregates one user's notification text for one day. Each phase
// upserts its own content field and must leave the other phase's field
// untouched; the send phase consumes the row once.
type DailyOutbox struct {
	bun.BaseModel `bun:"table:outbox"`

	ID            int64        `bun:",pk,autoincrement"`
	Username      string       `bun:",notnull,unique:outbox_user_date"`
	Email         string       `bun:",notnull"`
	Date          string       `bun:",notnull,unique:outbox_user_date"` // YYYY-MM-DD
	MapperContent string       `bun:",type:text"`
	DriverContent string       `bun:",type:text"`
	Status        OutboxStatus `bun:",notnull"`
	CreatedAt     time.Time    `bun:",notnull"`
	UpdatedAt     time.Time    `bun:",notnull"`
}

// IsEmpty reports whether neither phase produced content for the day.
func (o *DailyOutbox) IsEmpty() bool {
	return o.MapperContent == "" && o.DriverContent == ""
}
