package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/inferd/dispatcher/internal/inference"
)

// Manager owns the Registry, the model-file path, and the pool-policy
// configuration. It is the dispatch path's entry point.
type Manager struct {
	registry *Registry
	ports    *PortAllocator
	metrics  *DispatchMetrics
	logger   *Logger

	workerCfg  WorkerConfig
	managerCfg ManagerConfig
	configPath string
	modelPath  string
	authSecret []byte
	codec      Codec
}

// NewManager constructs a Manager and synchronously pre-warms
// NumInitWorkers idle entries, failing if any pre-warm spawn fails. If
// cfg.Worker.AuthSecretFile is set, every worker dial is gated behind the
// HMAC handshake in auth.go.
func NewManager(ctx context.Context, configPath, modelPath string, cfg *Config, metrics *DispatchMetrics, logger *Logger) (*Manager, error) {
	var secret []byte
	if cfg.Worker.AuthSecretFile != "" {
		raw, err := os.ReadFile(cfg.Worker.AuthSecretFile)
		if err != nil {
			return nil, fmt.Errorf("read worker auth secret: %w", err)
		}
		secret = SecretFromString(strings.TrimSpace(string(raw)))
	}

	codec, err := NewCodec(CodecType(cfg.Worker.BodyCodec))
	if err != nil {
		return nil, fmt.Errorf("configure body codec: %w", err)
	}
	logger.Info("manager configured body codec", "codec", codec.Name())

	m := &Manager{
		registry:   NewRegistry(cfg.Manager.MaxWorkers),
		ports:      NewPortAllocator(),
		metrics:    metrics,
		logger:     logger,
		workerCfg:  cfg.Worker,
		managerCfg: cfg.Manager,
		configPath: configPath,
		modelPath:  modelPath,
		authSecret: secret,
		codec:      codec,
	}

	if err := m.startNewWorkers(ctx, cfg.Manager.NumInitWorkers); err != nil {
		return nil, err
	}
	return m, nil
}

// NewManagerForTest builds a Manager around an already-populated Registry,
// bypassing process spawning entirely. It exists so the httpapi package can
// exercise real Dispatch/AllStatus/AllStats logic against handles backed by
// an in-process WorkerServer instead of a forked binary.
func NewManagerForTest(registry *Registry, cfg ManagerConfig, logger *Logger) *Manager {
	return &Manager{registry: registry, managerCfg: cfg, logger: logger}
}

func (m *Manager) startNewWorkers(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if _, err := m.startNewWorker(ctx); err != nil {
			return err
		}
	}
	return nil
}

// startNewWorker implements the spawn protocol: admission
// check, port allocation, fork with log redirection, readiness probe,
// Registry insertion.
func (m *Manager) startNewWorker(ctx context.Context) (Handle, error) {
	if m.registry.Len()+1 > m.managerCfg.MaxWorkers {
		return Handle{}, ErrCapacityExceeded
	}

	port, err := m.ports.Allocate()
	if err != nil {
		return Handle{}, fmt.Errorf("allocate port: %w", err)
	}

	proc, err := SpawnWorker(m.workerCfg, m.managerCfg, port, m.configPath, m.modelPath)
	if err != nil {
		return Handle{}, fmt.Errorf("spawn worker: %w", err)
	}

	conn, err := Dial(ctx, port, m.managerCfg.WorkerTimeout, m.authSecret)
	if err != nil {
		// A failed dial must not leave the child unreaped; WorkerProcess.Shutdown
		// always reaps regardless of how far the spawn got.
		_ = proc.Shutdown(context.Background())
		return Handle{}, ErrSpawnTimeout
	}

	handle := Handle{PID: uint32(proc.PID()), Port: port, Channel: conn, Process: proc}
	if err := m.registry.Insert(handle, StatusIdle); err != nil {
		conn.Close()
		_ = proc.Shutdown(context.Background())
		return Handle{}, err
	}

	m.logger.Info("manager started new worker", "pid", handle.PID, "port", handle.Port)
	if m.metrics != nil {
		m.metrics.WorkersSpawned.Inc()
		m.metrics.ActiveWorkers.Set(float64(m.registry.Len()))
	}
	return handle, nil
}

// Dispatch runs the end-to-end dispatch sequence: select an idle handle
// (or autoscale/refuse), claim it, call ComputeInference, release it.
func (m *Manager) Dispatch(ctx context.Context, task inference.Task) (inference.Result, time.Duration, error) {
	if err := task.Validate(); err != nil {
		return inference.Result{}, 0, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	handle, err := m.claim(ctx)
	if err != nil {
		return inference.Result{}, 0, err
	}

	start := time.Now()
	var result inference.Result
	callErr := handle.Channel.Call(ctx, "compute_inference", task, &result)
	elapsed := time.Since(start)

	m.release(handle, callErr)

	if callErr != nil {
		if m.metrics != nil {
			m.metrics.DispatchesFailed.Inc()
		}
		classified := m.classifyCallError(handle, callErr)
		m.logger.ErrorContext(ctx, "dispatch failed", "pid", handle.PID, "port", handle.Port, "error", classified)
		return inference.Result{}, 0, classified
	}

	if m.metrics != nil {
		m.metrics.DispatchesSucceeded.Inc()
		m.metrics.DispatchLatencySeconds.Observe(elapsed.Seconds())
	}
	m.logger.InfoContext(ctx, "dispatch succeeded", "pid", handle.PID, "port", handle.Port, "elapsed_ms", elapsed.Milliseconds())

	if m.managerCfg.SpotWorkers {
		m.retireSpot(handle)
	}

	return result, elapsed, nil
}

// claim implements dispatch steps 1-3: select, autoscale-or-refuse, and
// (unless FastWorkers) mark Working before any RPC is issued.
func (m *Manager) claim(ctx context.Context) (Handle, error) {
	if m.managerCfg.FastWorkers {
		handle, ok := m.registry.FindIdle()
		if ok {
			return handle, nil
		}
		return m.autoScaleOrRefuse(ctx)
	}

	handle, ok := m.registry.FindIdleAndMark(StatusWorking)
	if ok {
		return handle, nil
	}
	return m.autoScaleOrRefuse(ctx)
}

func (m *Manager) autoScaleOrRefuse(ctx context.Context) (Handle, error) {
	if !m.managerCfg.AutoScale {
		return Handle{}, ErrAllBusy
	}

	handle, err := m.startNewWorker(ctx)
	if err != nil {
		return Handle{}, err
	}
	if !m.managerCfg.FastWorkers {
		m.registry.SetStatus(handle.Partial(), StatusWorking)
	}
	return handle, nil
}

// release implements dispatch step 5: unless FastWorkers, restore Idle on
// success or Error on an RPC-transport failure.
func (m *Manager) release(handle Handle, callErr error) {
	if m.managerCfg.FastWorkers {
		return
	}

	if callErr != nil && isTransportFailure(callErr) {
		m.registry.SetStatus(handle.Partial(), StatusError)
		return
	}
	m.registry.SetStatus(handle.Partial(), StatusIdle)
}

// isTransportFailure distinguishes a channel failure (→ Error) from a
// typed model error (→ back to Idle). Connection.Call wraps every
// transport-level problem in a *TransportError; a worker-reported error
// comes back as the bare resp.Error() value instead.
func isTransportFailure(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func (m *Manager) classifyCallError(handle Handle, err error) error {
	if isTransportFailure(err) {
		return &RpcFailureError{Handle: handle.Partial(), Err: err}
	}
	return &InferenceFailureError{Handle: handle.Partial(), Msg: err.Error()}
}

// retireSpot implements the SpotWorkers policy: a worker configured as a
// spot worker is retired after serving exactly one dispatch.
func (m *Manager) retireSpot(handle Handle) {
	h, status, ok := m.registry.Get(handle.Partial())
	if !ok || status != StatusIdle {
		return
	}
	if _, _, removed := m.registry.Remove(handle.Partial()); !removed {
		return
	}
	m.retireProcess(h)
}

// retireProcess closes the handle's channel and starts the process's
// Shutdown (SIGTERM, then SIGKILL after the grace period) in a goroutine,
// so it returns without waiting for the child to exit; the reap happens
// in the background. Manager.KillWorker and SpotWorkers retirement both
// use it.
func (m *Manager) retireProcess(h Handle) {
	if h.Channel != nil {
		h.Channel.Close()
	}
	if h.Process != nil {
		go func() { _ = h.Process.Shutdown(context.Background()) }()
	}
	if m.metrics != nil {
		m.metrics.WorkersRetired.Inc()
		m.metrics.ActiveWorkers.Set(float64(m.registry.Len()))
	}
}

// KillWorker implements kill_worker retirement: pick an idle
// handle, remove it from the Registry, and signal its process. It does
// not wait for the child to exit.
func (m *Manager) KillWorker() error {
	handle, ok := m.registry.RemoveIdle()
	if !ok {
		return ErrNoIdleWorker
	}
	m.retireProcess(handle)
	return nil
}

// AllStatus returns the status snapshot for GET /workers/_status.
func (m *Manager) AllStatus() map[PartialHandle]Status {
	return m.registry.SnapshotStatus()
}

// Workers returns the partial-handle list for GET /workers.
func (m *Manager) Workers() []PartialHandle {
	return m.registry.SnapshotPartial()
}

// WorkingWorkers returns the Working-only partial-handle view, a narrower
// complement to Workers() for callers that only care about in-flight handles.
func (m *Manager) WorkingWorkers() []PartialHandle {
	return m.registry.WorkingPartials()
}

// AllStats gathers reqs_served from every worker via the GetStats RPC,
// for GET /workers/_info.
func (m *Manager) AllStats(ctx context.Context) (map[PartialHandle]uint64, error) {
	handles := m.registry.SnapshotHandles()
	out := make(map[PartialHandle]uint64, len(handles))

	for _, h := range handles {
		var stats inference.Stats
		if err := h.Channel.Call(ctx, "get_stats", inference.Empty{}, &stats); err != nil {
			return nil, &RpcFailureError{Handle: h.Partial(), Err: err}
		}
		out[h.Partial()] = stats.ReqsServed
	}
	return out, nil
}

// Shutdown tears down the Manager, reaping every child process. Called at
// server shutdown; the Registry is destroyed in full.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, h := range m.registry.SnapshotHandles() {
		if h.Channel != nil {
			h.Channel.Close()
		}
		if h.Process != nil {
			_ = h.Process.Shutdown(ctx)
		}
	}
}
