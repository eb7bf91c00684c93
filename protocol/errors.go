package protocol

import "fmt"

// CommandError reports an unexpected status byte after a control command.
type CommandError struct {
	// Operation is the command that failed
	Operation string

	// Status is the status read back from the device
	Status Status
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, e.Status, byte(e.Status))
}

// IsCommandError returns true if the error is a CommandError.
func IsCommandError(err error) bool {
	_, ok := err.(*CommandError)
	return ok
}

// getStatusName returns a human-readable name for a status code.
func getStatusName(s Status) string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusWaitData:
		return "waiting for data"
	default:
		return fmt.Sprintf("unknown status 0x%02X", byte(s))
	}
}
