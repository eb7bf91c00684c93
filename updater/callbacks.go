package updater

import (
	"time"

	"github.com/moffa90/go-blefota/protocol"
)

// Progress phases.
const (
	PhaseStarting  = "starting"
	PhaseBurning   = "burning"
	PhaseMetadata  = "metadata"
	PhaseRebooting = "rebooting"
	PhaseComplete  = "complete"
)

// Progress contains information about the update progress.
// Passed to ProgressCallback during Update.
type Progress struct {
	// Phase describes the current operation phase:
	//   "starting"  - Enabling FOTA mode
	//   "burning"   - Writing pages
	//   "metadata"  - Committing metadata
	//   "rebooting" - Rebooting the device
	//   "complete"  - Update completed successfully
	Phase string

	// Item is the name of the item being written
	Item string

	// CurrentPage is the page being written (1-based, across all items)
	CurrentPage int

	// TotalPages is the number of pages in the plan
	TotalPages int

	// Attempt is the current attempt for the page (1-based)
	Attempt int

	// BytesWritten is the number of item bytes acknowledged so far
	BytesWritten int

	// TotalBytes is the number of item bytes in the plan
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time elapsed since the update started
	ElapsedTime time.Duration
}

// ProgressCallback is called to report progress.
// Implementations should return quickly to avoid blocking the update.
type ProgressCallback func(Progress)

// StatusCallback receives human-readable status messages.
type StatusCallback func(msg string)

// ReadyCallback is called once the bootstrap completed and the device version
// is known.
type ReadyCallback func(version protocol.ProductVersion)

// SecureModeCallback is told which protocol variant the device selected.
type SecureModeCallback func(secure bool)

// Dispatcher runs fn on the caller's execution context (a UI thread, an event
// loop). Every callback goes through it. When nil, callbacks run on the
// updater goroutine.
type Dispatcher func(fn func())

// Logger is an optional logging interface that can be provided to the updater.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	up := updater.New(conn, updater.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

// Metrics receives update measurements. See package metrics for a Prometheus
// implementation.
type Metrics interface {
	// ObserveBootstrap records a finished Prepare.
	ObserveBootstrap(variant, result string)

	// ObservePageAttempt records one page attempt.
	ObservePageAttempt(ok bool, d time.Duration)

	// AddBytes records data bytes written to the device, retries included.
	AddBytes(n int)

	// ObserveRun records a finished Update.
	ObserveRun(result string, d time.Duration)
}
