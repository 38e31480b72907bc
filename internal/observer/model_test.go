package observer

import (
	"testing"

	"github.com/szibis/request-toolbar/internal/profiler"
)

func TestModelObserver_Hydrated(t *testing.T) {
	l := newLedger(1000, 1600, 1700, 2000)
	l.Record(profiler.BeforeController)

	o := NewModelObserver(l)
	o.Hydrated("User", 2)
	o.Hydrated("Post", 5)
	o.Hydrated("User", 1)
	o.Hydrated("", 1)
	o.Hydrated("Tag", 0)

	entries := o.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	user, post := entries[0], entries[1]
	if user.Model != "User" || user.Count != 3 || user.Action != ActionRetrieved {
		t.Errorf("unexpected user entry %+v", user)
	}
	if user.MemoryUsed.Value != 900 {
		t.Errorf("expected 600+300 bytes for User, got %v", user.MemoryUsed.Value)
	}
	if post.Count != 5 || post.MemoryUsed.Value != 100 {
		t.Errorf("unexpected post entry %+v", post)
	}
}

func TestModelObserver_Reset(t *testing.T) {
	o := NewModelObserver(newLedger(10))
	o.Hydrated("User", 1)
	o.Reset()
	if len(o.Entries()) != 0 {
		t.Error("entries survived reset")
	}
}
