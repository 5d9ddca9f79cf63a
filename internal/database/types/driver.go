package types

import (
	"time"

	"github.com/uptrace/bun"
)

// DriverStatus is the tracking state of a driver subscription.
type DriverStatus string

const (
	DriverStatusActive   DriverStatus = "active"
	DriverStatusInactive DriverStatus = "inactive"
)

// DriverNotification tracks one user's standing on one map. Created only when
// the user holds a top-5 position at subscription time; flipped inactive once
// the rank falls below the top 5.
type DriverNotification struct {
	bun.BaseModel `bun:"table:driver_notifications"`

	ID              int64        `bun:",pk,autoincrement"`
	UserID          string       `bun:",notnull"`
	Login           string       `bun:",notnull"`
	Email           string       `bun:",notnull"`
	MapUID          string       `bun:",notnull"`
	MapName         string       `bun:",notnull"`
	CurrentPosition int          `bun:",notnull"`
	CurrentScore    int          `bun:",notnull"`
	Status          DriverStatus `bun:",notnull"`
	IsActive        bool         `bun:",notnull"`
	LastCheckedAt   time.Time    `bun:",notnull"`
}
