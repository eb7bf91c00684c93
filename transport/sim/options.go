package sim

import (
	"time"

	"github.com/moffa90/go-blefota/protocol"
	"github.com/moffa90/go-blefota/secure"
)

// Config holds the simulated device configuration.
type Config struct {
	// Version is the product version reported by the version characteristic
	Version protocol.ProductVersion

	// MTU is the largest ATT MTU the device accepts
	MTU int

	// Latency delays every completion
	Latency time.Duration

	// RootPublicKey makes the device secure; host session keys must be signed by it
	RootPublicKey []byte

	// Suite verifies signatures and derives the session key
	Suite secure.Suite

	// RejectHandshake makes the device refuse any host session key
	RejectHandshake bool

	// FailPageEnds is the number of PAGE_END commands answered with ERROR
	FailPageEnds int

	// WaitPolls is the number of WAIT_DATA reads before a PAGE_END result
	WaitPolls int

	// FailMetadata answers METADATA with ERROR
	FailMetadata bool

	// FailStart answers START with ERROR
	FailStart bool

	// FailMTU fails MTU negotiation
	FailMTU bool

	// FailWriteAt fails the n-th characteristic write (1-based, 0 disables)
	FailWriteAt int

	// RefuseConnect makes Connect return an error
	RefuseConnect bool

	// ConnectStatus is reported with the connection event (0 is success)
	ConnectStatus int

	// Hidden lists characteristics left out of discovery
	Hidden []string
}

func defaultConfig() Config {
	return Config{
		MTU:   protocol.TargetMTU,
		Suite: secure.P256(),
	}
}

// Option is a functional option for configuring the Device.
type Option func(*Config)

// WithVersion sets the reported product version.
func WithVersion(v protocol.ProductVersion) Option {
	return func(c *Config) {
		c.Version = v
	}
}

// WithMTU caps the negotiated MTU.
func WithMTU(mtu int) Option {
	return func(c *Config) {
		if mtu > 0 {
			c.MTU = mtu
		}
	}
}

// WithLatency delays every completion by d.
func WithLatency(d time.Duration) Option {
	return func(c *Config) {
		c.Latency = d
	}
}

// WithSecure enables secure FOTA trusting rootPub.
func WithSecure(rootPub []byte) Option {
	return func(c *Config) {
		c.RootPublicKey = append([]byte(nil), rootPub...)
	}
}

// WithRejectHandshake makes the device refuse every session key.
func WithRejectHandshake() Option {
	return func(c *Config) {
		c.RejectHandshake = true
	}
}

// WithFailPageEnds answers the first n PAGE_END commands with ERROR.
func WithFailPageEnds(n int) Option {
	return func(c *Config) {
		c.FailPageEnds = n
	}
}

// WithWaitPolls reports WAIT_DATA n times before each PAGE_END result.
func WithWaitPolls(n int) Option {
	return func(c *Config) {
		c.WaitPolls = n
	}
}

// WithFailMetadata answers METADATA with ERROR.
func WithFailMetadata() Option {
	return func(c *Config) {
		c.FailMetadata = true
	}
}

// WithFailStart answers START with ERROR.
func WithFailStart() Option {
	return func(c *Config) {
		c.FailStart = true
	}
}

// WithFailMTU fails MTU negotiation.
func WithFailMTU() Option {
	return func(c *Config) {
		c.FailMTU = true
	}
}

// WithFailWriteAt fails the n-th write.
func WithFailWriteAt(n int) Option {
	return func(c *Config) {
		c.FailWriteAt = n
	}
}

// WithRefuseConnect makes Connect fail.
func WithRefuseConnect() Option {
	return func(c *Config) {
		c.RefuseConnect = true
	}
}

// WithHidden leaves the given characteristics out of discovery.
func WithHidden(chars ...string) Option {
	return func(c *Config) {
		c.Hidden = append(c.Hidden, chars...)
	}
}

// WithConnectStatus reports status with the connection event.
func WithConnectStatus(status int) Option {
	return func(c *Config) {
		c.ConnectStatus = status
	}
}
