package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord/memstore"
)

func TestCreate_RequiresParentsUnlessRequested(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	err := s.Create(ctx, "/runs/schedules/a", []byte("x"))
	if !errors.Is(err, coord.ErrNoNode) {
		t.Fatalf("err = %v, want ErrNoNode", err)
	}

	if err := s.Create(ctx, "/runs/schedules/a", []byte("x"), coord.CreateParents()); err != nil {
		t.Fatalf("create with parents: %v", err)
	}
	for _, p := range []string{"/runs", "/runs/schedules", "/runs/schedules/a"} {
		ok, err := s.Exists(ctx, p)
		if err != nil || !ok {
			t.Errorf("expected %s to exist (err=%v)", p, err)
		}
	}
}

func TestCreate_NeverOverwrites(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	if err := s.Create(ctx, "/a", []byte("first")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Create(ctx, "/a", []byte("second"))
	if !errors.Is(err, coord.ErrNodeExists) {
		t.Fatalf("err = %v, want ErrNodeExists", err)
	}
	n, err := s.Get(ctx, "/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(n.Data) != "first" {
		t.Fatalf("data = %q, want first", n.Data)
	}
}

func TestCreate_RejectsOversizedPayload(t *testing.T) {
	s := memstore.New(memstore.WithMaxPayload(4))
	if err := s.Create(context.Background(), "/a", []byte("12345")); err == nil {
		t.Fatal("expected oversized payload to be rejected")
	}
}

func TestChildren_DirectOnlyAndSorted(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	_ = s.Put(ctx, "/schedules/b", []byte("b"))
	_ = s.Put(ctx, "/schedules/a", []byte("a"))
	_ = s.Create(ctx, "/schedules/a/nested", nil)

	kids, err := s.Children(ctx, "/schedules")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(kids) != 2 || kids[0].Name() != "a" || kids[1].Name() != "b" {
		t.Fatalf("children = %+v", kids)
	}
}

func TestWatch_DeliversPrefixedEvents(t *testing.T) {
	s := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx, "/schedules")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	_ = s.Put(ctx, "/workflows/w", []byte("ignored"))
	_ = s.Put(ctx, "/schedules/a", []byte("1"))
	_ = s.Put(ctx, "/schedules/a", []byte("2"))
	_ = s.Delete(ctx, "/schedules/a")

	want := []coord.EventType{coord.EventCreated, coord.EventCreated, coord.EventUpdated, coord.EventDeleted}
	wantPaths := []string{"/schedules", "/schedules/a", "/schedules/a", "/schedules/a"}
	for i := range want {
		select {
		case ev := <-events:
			if ev.Type != want[i] || ev.Path != wantPaths[i] {
				t.Fatalf("event %d = %+v, want %s %s", i, ev, want[i], wantPaths[i])
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestWatch_ClosesOnCancel(t *testing.T) {
	s := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	events, _ := s.Watch(ctx, "/")
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// drain until close
			for range events {
			}
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
