package protocol

// ServiceName is the human-readable name of the FOTA GATT service.
const ServiceName = "INGChips FOTA Service"

// GATT identifiers of the FOTA service and its characteristics.
const (
	// ServiceUUID identifies the FOTA primary service
	ServiceUUID = "3345c2f0-6f36-45c5-8541-92f56728d5f3"

	// VersionCharUUID holds the current product version (platform + app)
	VersionCharUUID = "3345c2f1-6f36-45c5-8541-92f56728d5f3"

	// ControlCharUUID accepts control commands and reports the status byte
	ControlCharUUID = "3345c2f2-6f36-45c5-8541-92f56728d5f3"

	// DataCharUUID accepts page payload chunks
	DataCharUUID = "3345c2f3-6f36-45c5-8541-92f56728d5f3"

	// PublicKeyCharUUID exchanges session public keys. Its presence selects secure FOTA.
	PublicKeyCharUUID = "3345c2f4-6f36-45c5-8541-92f56728d5f3"
)

// Control opcodes.
const (
	// CmdStart enables FOTA on the device
	CmdStart = 0xAA

	// CmdPageBegin opens a page at the given flash address; data follows on the data characteristic
	CmdPageBegin = 0xB0

	// CmdPageEnd closes a page with its length, CRC and optional signature
	CmdPageEnd = 0xB1

	// CmdReadPage reads back a page (not used by the updater)
	CmdReadPage = 0xC0

	// CmdSwitchApp switches the running application (not used by the updater)
	CmdSwitchApp = 0xD0

	// CmdMetadata commits the update metadata
	CmdMetadata = 0xE0

	// CmdReboot restarts the device
	CmdReboot = 0xFF
)

// Status codes read back from the control characteristic.
const (
	// StatusDisabled indicates FOTA is not enabled (yet)
	StatusDisabled Status = 0x00

	// StatusOK indicates the last command succeeded
	StatusOK Status = 0x01

	// StatusError indicates the last command failed
	StatusError Status = 0x02

	// StatusWaitData indicates the device is still processing page data
	StatusWaitData Status = 0x03
)

// Size constants.
const (
	// TargetMTU is the ATT MTU requested during connection setup
	TargetMTU = 512

	// DefaultMTU is the ATT MTU assumed when negotiation fails
	DefaultMTU = 23

	// ATTHeaderSize is the ATT write overhead subtracted from the MTU
	ATTHeaderSize = 3

	// PublicKeySize is the size of an uncompressed P-256 point without prefix (X || Y)
	PublicKeySize = 64

	// SignatureSize is the size of a P-256 ECDSA signature (R || S)
	SignatureSize = 64

	// MetadataHeaderSize is the plaintext metadata prefix in secure mode
	MetadataHeaderSize = 2

	// VersionSize is the encoded size of a single Version
	VersionSize = 4

	// AppVersionOffset is the offset of the app version in the version characteristic
	AppVersionOffset = 4

	// StartCmdSize is the size of the START command
	StartCmdSize = 5

	// PageBeginCmdSize is the size of the PAGE_BEGIN command
	PageBeginCmdSize = 5

	// PageEndCmdSize is the size of the PAGE_END command without signature
	PageEndCmdSize = 5

	// MaxPageLength is the largest page length encodable in PAGE_END
	MaxPageLength = 0xFFFF
)

// PayloadSize returns the usable write payload for a negotiated MTU.
// MTUs above TargetMTU are clamped and an MTU too small to carry data yields
// the default payload.
func PayloadSize(mtu int) int {
	if mtu > TargetMTU {
		mtu = TargetMTU
	}
	if mtu <= ATTHeaderSize {
		mtu = DefaultMTU
	}
	return mtu - ATTHeaderSize
}
