package dispatch

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestSpawnWorker_ReapsWithoutShutdown(t *testing.T) {
	t.Cleanup(func() { os.RemoveAll(logDir) })

	wcfg := WorkerConfig{Binary: "true"}
	mcfg := ManagerConfig{Logging: "info"}

	wp, err := SpawnWorker(wcfg, mcfg, 9001, "config.yaml", "model.bin")
	if err != nil {
		t.Fatalf("SpawnWorker() error = %v", err)
	}

	select {
	case <-wp.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not reaped after exiting on its own")
	}
}

func TestSpawnWorker_Shutdown_ReapsCleanExit(t *testing.T) {
	t.Cleanup(func() { os.RemoveAll(logDir) })

	wcfg := WorkerConfig{Binary: "true"}
	mcfg := ManagerConfig{Logging: "info"}

	wp, err := SpawnWorker(wcfg, mcfg, 9002, "config.yaml", "model.bin")
	if err != nil {
		t.Fatalf("SpawnWorker() error = %v", err)
	}

	// Give the process a moment to exit on its own before Shutdown races
	// with the waiter for the reap.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wp.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case <-wp.doneCh:
	default:
		t.Fatal("Shutdown() returned before the child was reaped")
	}
}

func TestSpawnWorker_PIDAndPort(t *testing.T) {
	t.Cleanup(func() { os.RemoveAll(logDir) })

	wcfg := WorkerConfig{Binary: "true"}
	mcfg := ManagerConfig{Logging: "info"}

	wp, err := SpawnWorker(wcfg, mcfg, 9003, "config.yaml", "model.bin")
	if err != nil {
		t.Fatalf("SpawnWorker() error = %v", err)
	}
	defer wp.Shutdown(context.Background())

	if wp.PID() <= 0 {
		t.Errorf("PID() = %d, want positive", wp.PID())
	}
	if wp.Port() != 9003 {
		t.Errorf("Port() = %d, want 9003", wp.Port())
	}
}
