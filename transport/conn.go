package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("connection closed")

	// ErrDisconnected is returned when the peer drops the link.
	ErrDisconnected = errors.New("peer disconnected")

	// ErrNotDiscovered is returned by Read/Write before Discover succeeded.
	ErrNotDiscovered = errors.New("services not discovered")

	// ErrUnknownCharacteristic is returned for characteristics Discover did not resolve.
	ErrUnknownCharacteristic = errors.New("characteristic not discovered")
)

// Conn is a connection to a single GATT server.
// Implementations handle one outstanding request at a time.
type Conn interface {
	// Connect establishes the link.
	Connect(ctx context.Context) error

	// RequestMTU negotiates the ATT MTU and returns the value in effect.
	RequestMTU(ctx context.Context, mtu int) (int, error)

	// Discover resolves service and returns the subset of chars it exposes.
	Discover(ctx context.Context, service string, chars []string) ([]string, error)

	// Read reads a characteristic value.
	Read(ctx context.Context, char string) ([]byte, error)

	// Write writes a characteristic value and waits for the acknowledgement.
	Write(ctx context.Context, char string, value []byte) error

	// Close tears the link down. Pending operations return ErrClosed.
	Close() error
}

// OpError describes a failed GATT operation.
type OpError struct {
	// Op is the operation ("connect", "read", ...)
	Op string

	// Char is the characteristic involved, if any
	Char string

	// Status is the GATT status reported by the stack (0 if not applicable)
	Status int

	// Err is the underlying error, if any
	Err error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Char != "" {
		fmt.Fprintf(&b, " %s", e.Char)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": gatt status %d", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NormalizeUUID lower-cases a UUID string for comparison.
func NormalizeUUID(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// Contains reports whether uuid is present in list (case-insensitive).
func Contains(list []string, uuid string) bool {
	uuid = NormalizeUUID(uuid)
	for _, u := range list {
		if NormalizeUUID(u) == uuid {
			return true
		}
	}
	return false
}
