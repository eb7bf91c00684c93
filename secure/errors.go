package secure

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeRejected is returned when the device refuses the host key.
	ErrHandshakeRejected = errors.New("session key rejected by device")

	// ErrNotEstablished is returned when sealing data before a completed handshake.
	ErrNotEstablished = errors.New("secure session not established")

	// ErrHandshakeState is returned when handshake steps are called out of order.
	ErrHandshakeState = errors.New("handshake step out of order")
)

// KeyError indicates malformed key material.
type KeyError struct {
	// What names the key ("peer public key", "root key", ...)
	What string

	// Reason describes the problem
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.What, e.Reason)
}
