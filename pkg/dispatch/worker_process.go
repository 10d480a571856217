package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const logDir = "./logs"

// WorkerProcess supervises one child worker: its OS process, its per-spawn
// log files, and the reap that must follow either a clean SIGTERM or a
// spawn timeout. A naive spawn sequence can leave the child unreaped when
// the readiness probe times out; WorkerProcess always starts a waiter
// goroutine immediately after Start so that path is closed.
type WorkerProcess struct {
	cmd    *exec.Cmd
	pid    int
	port   uint16
	outLog *os.File
	errLog *os.File

	waitOnce sync.Once
	waitErr  error
	doneCh   chan struct{}
}

// SpawnWorker forks the worker binary with arguments <port> <config>
// <model>, redirecting stdout/stderr to timestamped per-worker log files
// under ./logs, and propagating the manager's logging filter and
// libtorch path into the child's environment.
func SpawnWorker(wcfg WorkerConfig, mcfg ManagerConfig, port uint16, configPath, modelPath string) (*WorkerProcess, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	epoch := time.Now().Unix()
	outPath := filepath.Join(logDir, fmt.Sprintf("worker_%d_%d.out", port, epoch))
	errPath := filepath.Join(logDir, fmt.Sprintf("worker_%d_%d.err", port, epoch))

	outFile, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create worker stdout log: %w", err)
	}
	errFile, err := os.Create(errPath)
	if err != nil {
		outFile.Close()
		return nil, fmt.Errorf("create worker stderr log: %w", err)
	}

	cmd := exec.Command(wcfg.Binary, strconv.Itoa(int(port)), configPath, modelPath)
	cmd.Env = append(os.Environ(), fmt.Sprintf("INFERD_WORKER_LOG=%s", mcfg.Logging))
	if wcfg.LibtorchPath != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("LD_LIBRARY_PATH=%s:%s", wcfg.LibtorchPath, os.Getenv("LD_LIBRARY_PATH")))
	}
	cmd.Stdout = outFile
	cmd.Stderr = errFile

	if err := cmd.Start(); err != nil {
		outFile.Close()
		errFile.Close()
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	wp := &WorkerProcess{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		port:   port,
		outLog: outFile,
		errLog: errFile,
		doneCh: make(chan struct{}),
	}
	go wp.waiter()

	return wp, nil
}

// waiter reaps the child exactly once, regardless of whether Shutdown was
// ever called. This is what guarantees no zombie survives a SpawnTimeout.
func (w *WorkerProcess) waiter() {
	w.waitOnce.Do(func() {
		w.waitErr = w.cmd.Wait()
		close(w.doneCh)
		w.outLog.Close()
		w.errLog.Close()
	})
}

// PID returns the child's process ID.
func (w *WorkerProcess) PID() int { return w.pid }

// Port returns the loopback port the child was told to bind.
func (w *WorkerProcess) Port() uint16 { return w.port }

// Shutdown sends SIGTERM, waits up to 5s for a graceful exit, then sends
// SIGKILL. It always blocks until the child has been reaped.
func (w *WorkerProcess) Shutdown(ctx context.Context) error {
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil && !isProcessFinished(err) {
		return fmt.Errorf("signal worker pid %d: %w", w.pid, err)
	}

	select {
	case <-w.doneCh:
		return w.waitErr
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}

	if err := w.cmd.Process.Kill(); err != nil && !isProcessFinished(err) {
		return fmt.Errorf("kill worker pid %d: %w", w.pid, err)
	}
	<-w.doneCh
	return w.waitErr
}

func isProcessFinished(err error) bool {
	return err == os.ErrProcessDone
}
