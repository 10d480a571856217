package dispatch

import (
	"fmt"
	"net"
)

// PortAllocator hands out free loopback TCP ports for worker spawns, the
// TCP analogue of generating a fresh Unix socket path per worker.
type PortAllocator struct{}

// NewPortAllocator constructs a PortAllocator.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{}
}

// Allocate asks the OS for an ephemeral loopback port, binds briefly to
// confirm it is free, then releases it for the worker to claim.
func (p *PortAllocator) Allocate() (uint16, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate a loopback port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}
	return uint16(addr.Port), nil
}
