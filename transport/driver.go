package transport

// GATT status codes reported in Events.
const (
	// GattSuccess indicates the request completed
	GattSuccess = 0

	// GattFailure is a generic failure status
	GattFailure = 0x101
)

// Driver is a callback-style GATT client. Every request method returns as soon
// as the request is queued; its completion is delivered later through the
// Events passed to Connect. A non-nil error from a request method means the
// request was never issued.
type Driver interface {
	// Connect starts connecting and registers the event handler.
	Connect(ev Events) error

	// RequestMTU asks for a larger ATT MTU.
	RequestMTU(mtu int) error

	// DiscoverServices starts service discovery.
	DiscoverServices() error

	// Services returns discovered services and their characteristic UUIDs.
	Services() map[string][]string

	// ReadCharacteristic starts a read.
	ReadCharacteristic(service, char string) error

	// WriteCharacteristic starts a write with response.
	WriteCharacteristic(service, char string, value []byte) error

	// Close disconnects and releases the driver.
	Close() error
}

// Events receives Driver completions. Implementations must not block.
type Events interface {
	OnConnectionStateChange(status int, connected bool)
	OnServicesDiscovered(status int)
	OnMTUChanged(mtu, status int)
	OnCharacteristicRead(char string, value []byte, status int)
	OnCharacteristicWrite(char string, status int)
	OnCharacteristicChanged(char string, value []byte)
}
