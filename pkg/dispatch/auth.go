package dispatch

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"time"
)

// HMACAuth gates a worker's TCP RPC port behind a challenge-response
// handshake. It is opt-in (worker.auth_secret_file) and transport-agnostic,
// serving the role SO_PEERCRED plays for Unix sockets: proving the peer
// holds a shared secret, since that syscall has no TCP equivalent.
type HMACAuth struct {
	secret []byte
}

// NewHMACAuth creates a new HMAC authenticator with the given secret.
func NewHMACAuth(secret []byte) *HMACAuth {
	return &HMACAuth{secret: secret}
}

// GenerateSecret generates a random 32-byte secret key.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, nil
}

// AuthenticateClient performs the Manager side of the handshake against a
// freshly dialed worker connection.
func (h *HMACAuth) AuthenticateClient(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	challenge := make([]byte, 32)
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return fmt.Errorf("failed to read challenge: %w", err)
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(challenge)
	response := mac.Sum(nil)

	if _, err := conn.Write(response); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}

	result := make([]byte, 1)
	if _, err := io.ReadFull(conn, result); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	if result[0] != 1 {
		return fmt.Errorf("authentication failed")
	}
	return nil
}

// AuthenticateServer performs the worker side of the handshake against an
// accepted connection.
func (h *HMACAuth) AuthenticateServer(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("failed to generate challenge: %w", err)
	}
	if _, err := conn.Write(challenge); err != nil {
		return fmt.Errorf("failed to send challenge: %w", err)
	}

	response := make([]byte, 32)
	if _, err := io.ReadFull(conn, response); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(challenge)
	expected := mac.Sum(nil)

	if !hmac.Equal(response, expected) {
		conn.Write([]byte{0})
		return fmt.Errorf("HMAC verification failed")
	}
	if _, err := conn.Write([]byte{1}); err != nil {
		return fmt.Errorf("failed to send auth success: %w", err)
	}
	return nil
}

// HMACListener wraps a net.Listener so every accepted connection must
// complete the HMAC handshake before it is handed to the RPC server.
type HMACListener struct {
	net.Listener
	auth *HMACAuth
}

// NewHMACListener wraps listener with HMAC authentication keyed by secret.
func NewHMACListener(listener net.Listener, secret []byte) *HMACListener {
	return &HMACListener{Listener: listener, auth: NewHMACAuth(secret)}
}

// Accept accepts a connection and performs the HMAC handshake before
// returning it to the caller.
func (l *HMACListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if err := l.auth.AuthenticateServer(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return conn, nil
}

// SecretFromString derives a 32-byte secret from an arbitrary passphrase.
func SecretFromString(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

// SecretFromHex decodes a hex-encoded secret.
func SecretFromHex(hexStr string) ([]byte, error) {
	return hex.DecodeString(hexStr)
}
