package types

import (
	"time"

	"github.com/uptrace/bun"
)

// MapPositionBaseline is the last observed sentinel rank for a map, the
// comparison point for inaccurate-mode probes. Created on first probe,
// updated only when the probed value differs, deleted when no alert map
// references the map anymore.
type MapPositionBaseline struct {
	bun.BaseModel `bun:"table:map_positions"`

	MapUID        string    `bun:",pk"`
	Position      int       `bun:",notnull"`
	Score         int       `bun:",notnull"`
	LastCheckedAt time.Time `bun:",notnull"`
}

// Differs reports whether a probed (position, score) pair deviates from the baseline.
func (b *MapPositionBaseline) Differs(position, score int) bool {
	return b.Position != position || b.Score != score
}
