package postgres

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
)

func TestParseNotification(t *testing.T) {
	ev, ok := parseNotification("created:/runs/schedules/s-1")
	if !ok {
		t.Fatal("expected payload to parse")
	}
	if ev.Type != coord.EventCreated || ev.Path != "/runs/schedules/s-1" {
		t.Fatalf("event = %+v", ev)
	}

	for _, bad := range []string{"", "nocolon", "renamed:/a"} {
		if _, ok := parseNotification(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestAdvisoryKey_StableAndDistinct(t *testing.T) {
	a := advisoryKey("/scheduler/leader")
	if a != advisoryKey("/scheduler/leader") {
		t.Fatal("expected key to be stable for the same path")
	}
	if a == advisoryKey("/other/leader") {
		t.Fatal("expected different paths to map to different keys")
	}
}

func TestNewElector_DefaultsNonPositiveIntervals(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := NewElector(nil, logger, 0, -time.Second)
	if e.retryInterval != DefaultRetryInterval {
		t.Errorf("retryInterval = %s, want %s", e.retryInterval, DefaultRetryInterval)
	}
	if e.checkInterval != DefaultCheckInterval {
		t.Errorf("checkInterval = %s, want %s", e.checkInterval, DefaultCheckInterval)
	}

	e = NewElector(nil, logger, 250*time.Millisecond, 3*time.Second)
	if e.retryInterval != 250*time.Millisecond || e.checkInterval != 3*time.Second {
		t.Errorf("intervals = %s/%s, want 250ms/3s", e.retryInterval, e.checkInterval)
	}
}

func TestMigrateLockDoesNotCollideWithElection(t *testing.T) {
	if advisoryKey(migrateLockName) == advisoryKey(coord.ElectionPath) {
		t.Fatal("migration and election share an advisory lock key")
	}
}
