package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inferd/dispatcher/internal/framing"
	"github.com/inferd/dispatcher/internal/protocol"
)

const probeBackoff = 100 * time.Millisecond

// dialWithRetry probes loopback:port until it accepts a TCP connection or
// timeout elapses. This is the spawn-readiness probe: the
// worker is considered ready as soon as it accepts a connection, no
// sidecar ready-file is consulted.
func dialWithRetry(ctx context.Context, port uint16, timeout time.Duration) (net.Conn, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case <-deadline.Done():
			return nil, ErrSpawnTimeout
		default:
			conn, err := net.DialTimeout("tcp", addr, probeBackoff)
			if err == nil {
				return conn, nil
			}
			if err := sleepWithCtx(deadline, probeBackoff); err != nil {
				return nil, ErrSpawnTimeout
			}
		}
	}
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Connection is the multiplexed RPC channel bound to one worker's loopback
// port. It tags every outbound Request with a request ID in the frame
// header so that more than one call can be in flight at once over a
// single long-lived TCP connection, which is what FastWorkers mode needs
// to issue concurrent dispatches against the same handle.
type Connection struct {
	port   uint16
	conn   net.Conn
	framer *framing.Framer

	requestID atomic.Uint64
	mu        sync.Mutex
	pending   map[uint64]chan *protocol.Response

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
	readerWg  sync.WaitGroup
}

// Dial opens a multiplexed Connection to a worker already listening on
// port, probing with backoff until timeout elapses. When authSecret is
// non-nil, the HMAC challenge-response handshake (auth.go) runs over the
// raw connection before any framed RPC traffic is sent.
func Dial(ctx context.Context, port uint16, timeout time.Duration, authSecret []byte) (*Connection, error) {
	conn, err := dialWithRetry(ctx, port, timeout)
	if err != nil {
		return nil, err
	}

	if authSecret != nil {
		if err := NewHMACAuth(authSecret).AuthenticateClient(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("authenticate worker on port %d: %w", port, err)
		}
	}

	c := &Connection{
		port:    port,
		conn:    conn,
		framer:  framing.NewEnhancedFramer(conn),
		pending: make(map[uint64]chan *protocol.Response),
		closeCh: make(chan struct{}),
	}
	c.readerWg.Add(1)
	go c.readLoop()
	return c, nil
}

func (c *Connection) readLoop() {
	defer c.readerWg.Done()

	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			c.fail(err)
			return
		}

		msg, err := protocol.UnwrapMessage(frame.Payload)
		if err != nil || msg.Type != protocol.MessageTypeResponse {
			continue
		}

		var resp protocol.Response
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			continue
		}
		resp.ID = frame.Header.RequestID

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if ok {
			ch <- &resp
		}
	}
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	c.closed.Store(true)
	close(c.closeCh)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call performs method(body) on the worker and unmarshals the result into
// out. It is safe to call concurrently; each call gets its own request ID
// and waits only on its own response.
func (c *Connection) Call(ctx context.Context, method string, body, out interface{}) error {
	if c.closed.Load() {
		return &TransportError{Err: fmt.Errorf("connection to worker on port %d is closed", c.port)}
	}

	id := c.requestID.Add(1)
	req, err := protocol.NewRequest(id, method, body)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	ch := make(chan *protocol.Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	reqMsg, err := protocol.WrapMessage(protocol.MessageTypeRequest, req)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("wrap request: %w", err)}
	}
	data, err := reqMsg.Marshal()
	if err != nil {
		return &TransportError{Err: fmt.Errorf("marshal request: %w", err)}
	}
	if err := c.framer.WriteFrame(framing.NewFrame(id, data)); err != nil {
		return &TransportError{Err: fmt.Errorf("write request: %w", err)}
	}

	select {
	case resp, ok := <-ch:
		return c.finish(resp, ok, out)
	case <-ctx.Done():
		// A client disconnect must not abandon the worker mid-dispatch: the
		// worker is still marked Working until its real response arrives.
		// Best-effort notify it, then keep waiting for that response.
		_ = c.sendCancellation(id, ctx.Err())
		resp, ok := <-ch
		return c.finish(resp, ok, out)
	}
}

func (c *Connection) finish(resp *protocol.Response, ok bool, out interface{}) error {
	if !ok {
		return &TransportError{Err: fmt.Errorf("connection to worker on port %d closed mid-call", c.port)}
	}
	if !resp.OK {
		return resp.Error()
	}
	if out != nil {
		return resp.UnmarshalBody(out)
	}
	return nil
}

// sendCancellation notifies the worker that the caller is no longer
// waiting on id, without itself waiting for an acknowledgement.
func (c *Connection) sendCancellation(id uint64, reason error) error {
	cancel := protocol.NewCancellationRequest(id, reason.Error())
	msg, err := protocol.WrapMessage(protocol.MessageTypeCancellation, cancel)
	if err != nil {
		return err
	}
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	return c.framer.WriteFrame(framing.NewFrame(id, data))
}

// Close terminates the underlying TCP connection and releases any calls
// still waiting on a response.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		select {
		case <-c.closeCh:
		default:
			close(c.closeCh)
		}
		err = c.conn.Close()
		c.readerWg.Wait()
		// readLoop's fail() skips the pending sweep once closed is set, so
		// release any still-waiting callers here.
		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
	})
	return err
}

// Healthy reports whether the connection has not observed a transport
// failure.
func (c *Connection) Healthy() bool {
	return !c.closed.Load()
}

// TransportError marks a failure in the channel itself (marshal or write
// error, closed connection) as distinct from a typed error the
// worker's model returned. The Manager maps the two differently: a
// TransportError flips the handle to StatusError, while a worker-reported
// error returns it to StatusIdle.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
