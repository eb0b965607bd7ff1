package httpserver

import (
	"testing"
	"time"
)

func TestHumanizeSince(test *testing.T) {
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		elapsed time.Duration
		want    string
	}{
		{0, "just now"},
		{500 * time.Millisecond, "just now"},
		{time.Second, "1 second ago"},
		{45 * time.Second, "45 seconds ago"},
		{time.Minute, "1 minute ago"},
		{3 * time.Minute, "3 minutes ago"},
		{2 * time.Hour, "2 hours ago"},
		{26 * time.Hour, "1 day ago"},
		{8 * 24 * time.Hour, "1 week ago"},
		{40 * 24 * time.Hour, "1 month ago"},
		{400 * 24 * time.Hour, "1 year ago"},
	}
	for _, entry := range cases {
		got := humanizeSince(base, base.Add(-entry.elapsed))
		if got != entry.want {
			test.Fatalf("elapsed %s: want %q got %q", entry.elapsed, entry.want, got)
		}
	}
}
