package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/api/live"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/pkg/utils"
)

// formatRecord renders one accurate-mode leaderboard entry.
func formatRecord(mapName string, row types.LeaderboardRow) string {
	driver := row.DisplayName
	if driver == "" {
		driver = row.Login
	}

	return fmt.Sprintf("%s: #%d by %s (%s)", mapName, row.Position, driver, formatScore(row.Score))
}

// formatChangedMap renders one inaccurate-mode change with the current board
// leaders attached.
func formatChangedMap(
	mapName, mapUID string, baseline *types.MapPositionBaseline, probe live.Probe, rows []types.LeaderboardRow,
) string {
	name := mapName
	if name == "" {
		name = mapUID
	}

	line := fmt.Sprintf("%s: new activity (threshold rank %d -> %d)", name, baseline.Position, probe.Position)

	if len(rows) > 0 {
		leader := rows[0].DisplayName
		if leader == "" {
			leader = rows[0].Login
		}

		line += fmt.Sprintf(", current best %s (%s)", leader, formatScore(rows[0].Score))
	}

	return line
}

// formatOverflow renders the count-only summary for an overflowed run.
func formatOverflow(changed int) string {
	return fmt.Sprintf("%d maps saw new activity; too many to list individually", changed)
}

// formatScore renders a millisecond race time as m:ss.mmm.
func formatScore(score int) string {
	d := time.Duration(score) * time.Millisecond

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	millis := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
}

func delayBetween(ctx context.Context, delay time.Duration) {
	utils.ContextSleep(ctx, delay)
}
