package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/inferd/dispatcher/internal/framing"
	"github.com/inferd/dispatcher/internal/inference"
	"github.com/inferd/dispatcher/internal/protocol"
)

// WorkerServer is the RPC server a worker process runs on its loopback
// port. It accepts exactly the two methods the Manager ever issues
// ("compute_inference" and "get_stats") and serves each accepted
// connection serially: the Manager's Connection only keeps one call in
// flight per handle unless FastWorkers is set, in which case the
// Manager multiplexes by request ID and WorkerServer still answers the
// requests on a connection one at a time, in arrival order.
type WorkerServer struct {
	model      inference.Model
	authSecret []byte
	codec      Codec
	logger     *Logger

	reqsServed atomic.Uint64
}

// NewWorkerServer builds a server around model. authSecret may be nil,
// in which case accepted connections skip the HMAC handshake.
func NewWorkerServer(model inference.Model, authSecret []byte, codec Codec, logger *Logger) *WorkerServer {
	return &WorkerServer{model: model, authSecret: authSecret, codec: codec, logger: logger}
}

// Serve binds port on loopback and serves connections until ctx is
// canceled or the listener fails.
func (s *WorkerServer) Serve(ctx context.Context, port uint16) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()

	var listener net.Listener = ln
	if s.authSecret != nil {
		listener = NewHMACListener(ln, s.authSecret)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go s.serveConn(ctx, conn)
	}
}

// serveConn runs the request/response loop for one connection. Requests
// on the same connection are handled one at a time in arrival order;
// the Manager's FastWorkers mode relies only on request-ID correlation,
// not on concurrent handling inside a single worker. Every frame payload
// is a protocol.Message envelope, so a cancellation notice can share the
// channel with ordinary request/response traffic.
func (s *WorkerServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	framer := framing.NewEnhancedFramer(conn)

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			return
		}

		msg, err := protocol.UnwrapMessage(frame.Payload)
		if err != nil {
			s.logger.Error("worker server received malformed envelope", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.MessageTypeCancellation:
			s.handleCancellation(msg)
			continue
		case protocol.MessageTypeRequest:
			// fall through to normal dispatch below
		default:
			s.logger.Error("worker server received unexpected message type", "type", msg.Type)
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			s.logger.Error("worker server received malformed request", "error", err)
			continue
		}

		resp := s.handle(ctx, &req)
		respMsg, err := protocol.WrapMessage(protocol.MessageTypeResponse, resp)
		if err != nil {
			s.logger.Error("worker server failed to wrap response", "error", err)
			return
		}
		data, err := respMsg.Marshal()
		if err != nil {
			s.logger.Error("worker server failed to marshal response", "error", err)
			return
		}
		if err := framer.WriteFrame(framing.NewFrame(req.ID, data)); err != nil {
			return
		}
	}
}

// handleCancellation logs a client-observed cancellation. The reference
// model's Compute is synchronous and cannot be interrupted mid-flight, so
// the in-flight request's own response is still produced and sent
// normally; this is a best-effort notice only.
func (s *WorkerServer) handleCancellation(msg *protocol.Message) {
	var cancel protocol.CancellationRequest
	if err := json.Unmarshal(msg.Payload, &cancel); err != nil {
		s.logger.Error("worker server received malformed cancellation", "error", err)
		return
	}
	s.logger.Info("worker server received cancellation", "request_id", cancel.ID, "reason", cancel.Reason)
}

func (s *WorkerServer) handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case "compute_inference":
		return s.handleComputeInference(req)
	case "get_stats":
		return s.handleGetStats(req)
	default:
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("unknown method %q", req.Method))
	}
}

func (s *WorkerServer) handleComputeInference(req *protocol.Request) *protocol.Response {
	var task inference.Task
	if err := req.UnmarshalBody(&task); err != nil {
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("decode task: %w", err))
	}
	if err := task.Validate(); err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}

	result, err := s.model.Compute(task)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	s.reqsServed.Add(1)

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("encode result: %w", err))
	}
	return resp
}

func (s *WorkerServer) handleGetStats(req *protocol.Request) *protocol.Response {
	stats := inference.Stats{ReqsServed: s.reqsServed.Load()}
	resp, err := protocol.NewResponse(req.ID, stats)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("encode stats: %w", err))
	}
	return resp
}
