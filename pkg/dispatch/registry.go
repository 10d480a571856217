package dispatch

import "sync"

// entry pairs a Handle with its current Status inside the Registry.
type entry struct {
	handle Handle
	status Status
}

// Registry is the Manager's worker pool: a mapping from worker identity
// (PartialHandle) to (Handle, Status). A single reader-writer lock guards
// it; the lock is never held across an RPC call — callers
// bracket a dispatch as two short critical sections around the RPC.
type Registry struct {
	mu         sync.RWMutex
	entries    map[PartialHandle]*entry
	order      []PartialHandle // insertion order, for deterministic find_idle
	maxWorkers int
}

// NewRegistry creates an empty Registry capped at maxWorkers entries.
func NewRegistry(maxWorkers int) *Registry {
	return &Registry{
		entries:    make(map[PartialHandle]*entry),
		maxWorkers: maxWorkers,
	}
}

// Insert adds handle at status, failing with ErrCapacityExceeded if doing
// so would push the Registry past maxWorkers.
func (r *Registry) Insert(handle Handle, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := handle.Partial()
	if _, exists := r.entries[id]; exists {
		return nil
	}
	if len(r.entries) >= r.maxWorkers {
		return ErrCapacityExceeded
	}
	r.entries[id] = &entry{handle: handle, status: status}
	r.order = append(r.order, id)
	return nil
}

// Remove deletes id from the Registry, returning the entry that was there.
func (r *Registry) Remove(id PartialHandle) (Handle, Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Handle{}, 0, false
	}
	delete(r.entries, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return e.handle, e.status, true
}

// SetStatus atomically updates id's status slot.
func (r *Registry) SetStatus(id PartialHandle, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.status = status
	return true
}

// FindIdle returns the first handle (in insertion order) whose status is
// StatusIdle, or false if none exists. "First idle wins" is the chosen
// tie-break policy, favoring worker cache locality over fairness.
func (r *Registry) FindIdle() (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if e := r.entries[id]; e.status == StatusIdle {
			return e.handle, true
		}
	}
	return Handle{}, false
}

// FindIdleAndMark atomically finds an idle handle and marks it Working in
// one critical section, so a concurrent FindIdle + SetStatus pair can
// never hand the same handle to two callers.
func (r *Registry) FindIdleAndMark(newStatus Status) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if e := r.entries[id]; e.status == StatusIdle {
			e.status = newStatus
			return e.handle, true
		}
	}
	return Handle{}, false
}

// Get returns the handle and status currently registered for id.
func (r *Registry) Get(id PartialHandle) (Handle, Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Handle{}, 0, false
	}
	return e.handle, e.status, true
}

// Len returns the number of entries currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SnapshotStatus returns a copy of the current worker-id → status map.
func (r *Registry) SnapshotStatus() map[PartialHandle]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[PartialHandle]Status, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.status
	}
	return out
}

// SnapshotPartial returns the partial-handle list in insertion order.
func (r *Registry) SnapshotPartial() []PartialHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PartialHandle, len(r.order))
	copy(out, r.order)
	return out
}

// SnapshotHandles returns a copy of every live Handle in insertion order,
// used for RPC fan-out (all_stats) and for retirement selection.
func (r *Registry) SnapshotHandles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].handle)
	}
	return out
}

// WorkingPartials returns the partial handles currently Working, a
// narrower view than SnapshotPartial for callers that only care about
// handles with a dispatch in flight.
func (r *Registry) WorkingPartials() []PartialHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []PartialHandle
	for _, id := range r.order {
		if r.entries[id].status == StatusWorking {
			out = append(out, id)
		}
	}
	return out
}

// RemoveIdle picks an idle handle, removes it from the Registry, and
// returns it. Used by kill_worker retirement.
func (r *Registry) RemoveIdle() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, id := range r.order {
		if e := r.entries[id]; e.status == StatusIdle {
			delete(r.entries, id)
			r.order = append(r.order[:i], r.order[i+1:]...)
			return e.handle, true
		}
	}
	return Handle{}, false
}
