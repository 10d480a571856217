package dispatch

import (
	"sync"
	"testing"
)

func TestRegistry_InsertCapacity(t *testing.T) {
	r := NewRegistry(2)

	if err := r.Insert(Handle{PID: 1, Port: 9001}, StatusIdle); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := r.Insert(Handle{PID: 2, Port: 9002}, StatusIdle); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := r.Insert(Handle{PID: 3, Port: 9003}, StatusIdle); err != ErrCapacityExceeded {
		t.Fatalf("Insert() error = %v, want ErrCapacityExceeded", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_FindIdle_FirstWins(t *testing.T) {
	r := NewRegistry(5)
	_ = r.Insert(Handle{PID: 1, Port: 9001}, StatusWorking)
	_ = r.Insert(Handle{PID: 2, Port: 9002}, StatusIdle)
	_ = r.Insert(Handle{PID: 3, Port: 9003}, StatusIdle)

	h, ok := r.FindIdle()
	if !ok {
		t.Fatal("expected an idle handle")
	}
	if h.PID != 2 {
		t.Errorf("FindIdle() = pid %d, want 2 (first idle in insertion order)", h.PID)
	}
}

func TestRegistry_FindIdleAndMark_NoDoubleClaim(t *testing.T) {
	r := NewRegistry(5)
	_ = r.Insert(Handle{PID: 1, Port: 9001}, StatusIdle)

	var wg sync.WaitGroup
	claims := make(chan Handle, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h, ok := r.FindIdleAndMark(StatusWorking); ok {
				claims <- h
			}
		}()
	}
	wg.Wait()
	close(claims)

	count := 0
	for range claims {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly one caller to claim the sole idle handle, got %d", count)
	}
}

func TestRegistry_RemoveAndSetStatus(t *testing.T) {
	r := NewRegistry(5)
	h := Handle{PID: 1, Port: 9001}
	_ = r.Insert(h, StatusIdle)

	if !r.SetStatus(h.Partial(), StatusError) {
		t.Fatal("SetStatus() returned false for a registered handle")
	}
	_, status, ok := r.Get(h.Partial())
	if !ok || status != StatusError {
		t.Fatalf("Get() = (%v, %v), want (true, StatusError)", ok, status)
	}

	removed, _, ok := r.Remove(h.Partial())
	if !ok || removed.PID != h.PID {
		t.Fatalf("Remove() = (%v, %v)", removed, ok)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after remove", r.Len())
	}
}

func TestRegistry_WorkingPartials(t *testing.T) {
	r := NewRegistry(5)
	_ = r.Insert(Handle{PID: 1, Port: 9001}, StatusIdle)
	_ = r.Insert(Handle{PID: 2, Port: 9002}, StatusWorking)

	working := r.WorkingPartials()
	if len(working) != 1 || working[0].PID != 2 {
		t.Errorf("WorkingPartials() = %v, want exactly pid 2", working)
	}
}

func TestRegistry_RemoveIdle_FailsWhenNoneIdle(t *testing.T) {
	r := NewRegistry(5)
	_ = r.Insert(Handle{PID: 1, Port: 9001}, StatusWorking)

	if _, ok := r.RemoveIdle(); ok {
		t.Fatal("RemoveIdle() should fail when no idle handle exists")
	}
}
