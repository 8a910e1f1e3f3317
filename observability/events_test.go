package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/couponclip/dbopen"
)

func setupRunLog(t *testing.T, opts ...Option) *RunLog {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewRunLog(db, 16, nil, opts...)
}

func TestRunLog_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	l := setupRunLog(t, WithFlushInterval(time.Hour))

	l.Record(RunEvent{Op: "clip", UserID: 7, Store: "Acme", Clipped: 3, Duration: 2 * time.Second})
	l.Record(RunEvent{Op: "clip", UserID: 7, Store: "Bay", Error: "login failed", Status: StatusFailed})
	l.Record(RunEvent{Op: "discover", UserID: 8, Store: "Acme", Transport: "mcp"})
	l.Close()

	all, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("events: got %d, want 3", len(all))
	}

	clips, err := l.Query(ctx, Filter{Op: "clip", UserID: 7, Status: StatusSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if len(clips) != 1 {
		t.Fatalf("successful clips: got %d, want 1", len(clips))
	}
	e := clips[0]
	if e.Store != "Acme" || e.Clipped != 3 || e.Duration != 2*time.Second {
		t.Errorf("event: got %+v", e)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Errorf("defaults not filled: %+v", e)
	}

	viaMCP, err := l.Query(ctx, Filter{Transport: "mcp"})
	if err != nil {
		t.Fatal(err)
	}
	if len(viaMCP) != 1 || viaMCP[0].Op != "discover" {
		t.Errorf("mcp events: got %+v", viaMCP)
	}

	failed, _ := l.Query(ctx, Filter{Status: StatusFailed})
	if len(failed) != 1 || failed[0].Error != "login failed" {
		t.Errorf("failed: got %+v", failed)
	}
}

func TestRunLog_StatusDefaults(t *testing.T) {
	l := setupRunLog(t)
	e := RunEvent{Error: "boom"}
	l.fill(&e)
	if e.Status != StatusError {
		t.Errorf("status with error: got %q, want %q", e.Status, StatusError)
	}
	e = RunEvent{}
	l.fill(&e)
	if e.Status != StatusSuccess {
		t.Errorf("status without error: got %q, want %q", e.Status, StatusSuccess)
	}
	l.Close()
}

func TestRunLog_BufferOverflowWritesSync(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	l := NewRunLog(db, 1, nil, WithFlushInterval(time.Hour))
	for i := 0; i < 20; i++ {
		l.Record(RunEvent{Op: "clip", Store: fmt.Sprintf("s%d", i)})
	}
	l.Close()

	events, err := l.Query(ctx, Filter{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 20 {
		t.Errorf("events: got %d, want 20", len(events))
	}
}

func TestRunLog_Cleanup(t *testing.T) {
	ctx := context.Background()
	l := setupRunLog(t)
	l.Record(RunEvent{Op: "clip", Timestamp: time.Now().AddDate(0, 0, -40)})
	l.Record(RunEvent{Op: "clip", Timestamp: time.Now().AddDate(0, 0, -1)})
	l.Close()

	n, err := l.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("removed: got %d, want 1", n)
	}
	left, _ := l.Query(ctx, Filter{})
	if len(left) != 1 {
		t.Errorf("remaining: got %d, want 1", len(left))
	}
}

func TestRunLog_QuerySince(t *testing.T) {
	ctx := context.Background()
	l := setupRunLog(t)
	l.Record(RunEvent{Op: "clip", Timestamp: time.Now().Add(-2 * time.Hour)})
	l.Record(RunEvent{Op: "clip"})
	l.Close()

	recent, err := l.Query(ctx, Filter{Since: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Errorf("recent: got %d, want 1", len(recent))
	}
}
