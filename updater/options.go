package updater

import (
	"time"

	"github.com/moffa90/go-blefota/protocol"
	"github.com/moffa90/go-blefota/secure"
)

// Config holds the updater configuration.
type Config struct {
	// ProgressCallback is called during Update to report progress (optional)
	ProgressCallback ProgressCallback

	// StatusCallback receives status messages (optional)
	StatusCallback StatusCallback

	// ReadyCallback is called when Prepare completes (optional)
	ReadyCallback ReadyCallback

	// SecureModeCallback is told which variant was selected (optional)
	SecureModeCallback SecureModeCallback

	// Dispatcher runs callbacks on the caller's context (optional)
	Dispatcher Dispatcher

	// Logger is used for logging operations (optional)
	Logger Logger

	// Metrics receives measurements (optional)
	Metrics Metrics

	// DeviceName is shown in status messages (optional)
	DeviceName string

	// RootKey certifies session keys on secure devices
	RootKey secure.PrivateKey

	// Suite provides the cryptographic primitives
	Suite secure.Suite

	// TargetMTU is the MTU requested during bootstrap
	TargetMTU int

	// ChunkDelay is the pause after each data chunk
	ChunkDelay time.Duration

	// PageDelay is the pause between PAGE_END and the first status poll
	PageDelay time.Duration

	// Retries is the maximum number of attempts per page, the first included
	Retries int

	// Timeout bounds each GATT operation
	Timeout time.Duration

	// PollTimeout bounds the status polling after PAGE_END
	PollTimeout time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Suite:       secure.P256(),
		TargetMTU:   protocol.TargetMTU,
		ChunkDelay:  10 * time.Millisecond,
		PageDelay:   80 * time.Millisecond,
		Retries:     3,
		Timeout:     5 * time.Second,
		PollTimeout: 30 * time.Second,
	}
}

// Option is a functional option for configuring the Updater.
type Option func(*Config)

// WithProgressCallback sets a callback function to track update progress.
//
// Example:
//
//	up := updater.New(conn,
//	    updater.WithProgressCallback(func(p updater.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithStatusCallback sets a callback receiving status messages.
func WithStatusCallback(callback StatusCallback) Option {
	return func(c *Config) {
		c.StatusCallback = callback
	}
}

// WithReadyCallback sets a callback invoked when Prepare completes.
func WithReadyCallback(callback ReadyCallback) Option {
	return func(c *Config) {
		c.ReadyCallback = callback
	}
}

// WithSecureModeCallback sets a callback told whether the device is secure.
func WithSecureModeCallback(callback SecureModeCallback) Option {
	return func(c *Config) {
		c.SecureModeCallback = callback
	}
}

// WithDispatcher runs every callback through d.
//
// Example:
//
//	events := make(chan func(), 16)
//	up := updater.New(conn, updater.WithDispatcher(func(fn func()) { events <- fn }))
func WithDispatcher(d Dispatcher) Option {
	return func(c *Config) {
		c.Dispatcher = d
	}
}

// WithLogger sets a logger for the updater operations.
//
// Example:
//
//	up := updater.New(conn, updater.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithDeviceName sets the device name shown in status messages.
func WithDeviceName(name string) Option {
	return func(c *Config) {
		c.DeviceName = name
	}
}

// WithRootKey sets the root key used to certify session keys.
//
// Example:
//
//	root, err := secure.LoadPrivateKeyFile("root.key")
//	up := updater.New(conn, updater.WithRootKey(root))
func WithRootKey(key secure.PrivateKey) Option {
	return func(c *Config) {
		c.RootKey = key
	}
}

// WithSuite replaces the cryptographic suite.
func WithSuite(suite secure.Suite) Option {
	return func(c *Config) {
		if suite != nil {
			c.Suite = suite
		}
	}
}

// WithTargetMTU sets the MTU requested during bootstrap.
// Default is 512; values outside 24-512 are ignored.
func WithTargetMTU(mtu int) Option {
	return func(c *Config) {
		if mtu > protocol.DefaultMTU && mtu <= protocol.TargetMTU {
			c.TargetMTU = mtu
		}
	}
}

// WithChunkDelay sets the pause after each data chunk. Default is 10ms.
func WithChunkDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ChunkDelay = d
		}
	}
}

// WithPageDelay sets the pause after PAGE_END. Default is 80ms.
func WithPageDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.PageDelay = d
		}
	}
}

// WithRetries sets the maximum number of attempts per page. Default is 3.
//
// Example:
//
//	up := updater.New(conn, updater.WithRetries(5))
func WithRetries(attempts int) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.Retries = attempts
		}
	}
}

// WithTimeout sets the timeout of each GATT operation. Default is 5s.
//
// Example:
//
//	up := updater.New(conn, updater.WithTimeout(10*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithPollTimeout bounds the status polling after PAGE_END. Default is 30s.
func WithPollTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.PollTimeout = timeout
		}
	}
}
