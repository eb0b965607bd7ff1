package httpserver

import (
	"fmt"
	"time"
)

type sinceUnit struct {
	span time.Duration
	name string
}

var sinceUnits = []sinceUnit{
	{365 * 24 * time.Hour, "year"},
	{30 * 24 * time.Hour, "month"},
	{7 * 24 * time.Hour, "week"},
	{24 * time.Hour, "day"},
	{time.Hour, "hour"},
	{time.Minute, "minute"},
	{time.Second, "second"},
}

// humanizeSince renders the elapsed time as a single coarse unit.
func humanizeSince(now time.Time, then time.Time) string {
	elapsed := now.Sub(then)
	if elapsed < time.Second {
		return "just now"
	}
	for _, unit := range sinceUnits {
		if elapsed < unit.span {
			continue
		}
		count := int64(elapsed / unit.span)
		if count == 1 {
			return fmt.Sprintf("1 %s ago", unit.name)
		}
		return fmt.Sprintf("%d %ss ago", count, unit.name)
	}
	return "just now"
}
