package dispatch

import "fmt"

// PartialHandle is a worker's externally-reportable identity: its PID and
// the loopback port its RPC server is bound to. It is comparable and
// hashable as-is, which makes it the Registry's map key.
type PartialHandle struct {
	PID  uint32 `json:"pid"`
	Port uint16 `json:"port"`
}

func (p PartialHandle) String() string {
	return fmt.Sprintf("pid=%d port=%d", p.PID, p.Port)
}

// Handle is an in-memory descriptor for a live worker: its identity plus
// a bound RPC channel. Equality and hashing are defined on (pid, port)
// only via Equal/Partial — the channel is deliberately excluded from
// identity so a reconnected channel compares equal to the one it
// replaced. Handle itself is never used as a map key; Partial() is.
type Handle struct {
	PID     uint32
	Port    uint16
	Channel *Connection
	Process *WorkerProcess
}

// Partial returns the externally reportable form of this handle.
func (h Handle) Partial() PartialHandle {
	return PartialHandle{PID: h.PID, Port: h.Port}
}

// Equal reports whether two handles share an identity, ignoring Channel.
func (h Handle) Equal(other Handle) bool {
	return h.PID == other.PID && h.Port == other.Port
}

func (h Handle) String() string {
	return h.Partial().String()
}
