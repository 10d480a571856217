package dispatch

import "errors"

// Sentinel errors surfaced by the Manager's dispatch and spawn paths. The
// front-end maps these to HTTP statuses (see statusForError in
// pkg/httpapi).
var (
	// ErrCapacityExceeded is returned when spawning a new worker would
	// push the Registry past manager.max_workers.
	ErrCapacityExceeded = errors.New("dispatch: capacity exceeded")

	// ErrSpawnTimeout is returned when a child worker does not accept an
	// RPC connection within manager.worker_timeout.
	ErrSpawnTimeout = errors.New("dispatch: worker spawn timed out")

	// ErrAllBusy is returned when no idle worker exists and autoscale is
	// disabled or exhausted.
	ErrAllBusy = errors.New("dispatch: all workers busy")

	// ErrInvalidInput is returned when a task's payload does not match
	// its declared inference type.
	ErrInvalidInput = errors.New("dispatch: invalid input")

	// ErrNoIdleWorker is returned by kill_worker when the Registry has no
	// idle handle to retire.
	ErrNoIdleWorker = errors.New("dispatch: no idle worker to retire")
)

// RpcFailureError wraps a transport error observed mid-dispatch. The
// handle that produced it transitions to StatusError.
type RpcFailureError struct {
	Handle PartialHandle
	Err    error
}

func (e *RpcFailureError) Error() string {
	return "dispatch: rpc failure on " + e.Handle.String() + ": " + e.Err.Error()
}

func (e *RpcFailureError) Unwrap() error { return e.Err }

// InferenceFailureError wraps a typed error a worker returned from the
// model itself. The handle returns to StatusIdle; only the request fails.
type InferenceFailureError struct {
	Handle PartialHandle
	Msg    string
}

func (e *InferenceFailureError) Error() string {
	return "dispatch: inference failed on " + e.Handle.String() + ": " + e.Msg
}
