package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/moffa90/go-blefota/protocol"
)

var (
	// ErrAborted is returned by calls interrupted by Abort.
	ErrAborted = errors.New("update aborted")

	// ErrPollTimeout is returned when the device never reports a page result.
	ErrPollTimeout = errors.New("timed out waiting for page status")
)

// StateError indicates a call not allowed in the current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: updater is %s", e.Op, e.State)
}

// TransportError indicates a failed connection or GATT operation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CharacteristicMissingError indicates that the device lacks required FOTA
// characteristics.
type CharacteristicMissingError struct {
	UUIDs []string
}

func (e *CharacteristicMissingError) Error() string {
	return fmt.Sprintf("%s is not available: missing %s",
		protocol.ServiceName, strings.Join(e.UUIDs, ", "))
}

// HandshakeError indicates that the secure session could not be established.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to exchange session key: %s", e.Reason)
	}
	return fmt.Sprintf("failed to exchange session key: %s: %v", e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// StartError indicates that the device refused to enable FOTA.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to enable FOTA: %v", e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// PageError indicates that a page failed on every attempt.
type PageError struct {
	Item     string
	Address  uint32
	Attempts int
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("burn %s failed: page 0x%08X rejected after %d attempts: %v",
		e.Item, e.Address, e.Attempts, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// MetadataError indicates that the metadata commit failed.
type MetadataError struct {
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata failed: %v", e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// Classify returns a short label for err, suitable for metrics.
func Classify(err error) string {
	var (
		missing   *CharacteristicMissingError
		handshake *HandshakeError
		start     *StartError
		page      *PageError
		meta      *MetadataError
		tr        *TransportError
	)

	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &missing):
		return "service_missing"
	case errors.As(err, &handshake):
		return "handshake"
	case errors.As(err, &start):
		return "start"
	case errors.As(err, &page):
		return "page"
	case errors.As(err, &meta):
		return "metadata"
	case errors.As(err, &tr):
		return "transport"
	case errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
