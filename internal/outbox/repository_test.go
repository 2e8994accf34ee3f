package outbox

import (
	"strings"
	"testing"
	"time"
)

func TestClaimDueQueryLocksAndGuards(t *testing.T) {
	for _, fragment := range []string{
		"FOR UPDATE SKIP LOCKED",
		"status IN ('pending', 'scheduled')",
		"scheduled_for <= now()",
		"SET status = 'sending'",
		"m.status IN ('pending', 'scheduled')",
	} {
		if !strings.Contains(claimDueQuery, fragment) {
			t.Errorf("claim query missing %q", fragment)
		}
	}
}

func TestNextRetryAtGrowsLinearly(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var prev time.Time
	for attempt := 0; attempt < 5; attempt++ {
		at := NextRetryAt(now, attempt)
		if !at.After(now) {
			t.Fatalf("retry %d not in the future", attempt)
		}
		if attempt > 0 {
			gap := at.Sub(prev)
			if gap != time.Minute {
				t.Fatalf("retry %d gap = %v, want 1m", attempt, gap)
			}
		}
		prev = at
	}
}
