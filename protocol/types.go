package protocol

import "fmt"

// Status is the single status byte reported by the control characteristic.
type Status byte

// String returns the human-readable name of the status.
func (s Status) String() string {
	return getStatusName(s)
}

// Terminal reports whether the status ends a PAGE_END poll.
func (s Status) Terminal() bool {
	return s == StatusOK || s == StatusError
}

// Version is a firmware version triple.
// Versions are ordered lexicographically by major, minor, then patch.
type Version struct {
	// Major is the major version (2 bytes on the wire)
	Major uint16

	// Minor is the minor version
	Minor uint8

	// Patch is the patch version
	Patch uint8
}

// Compare returns a negative number if v < other, zero if equal and a positive
// number if v > other.
func (v Version) Compare(other Version) int {
	if r := int(v.Major) - int(other.Major); r != 0 {
		return r
	}
	if r := int(v.Minor) - int(other.Minor); r != 0 {
		return r
	}
	return int(v.Patch) - int(other.Patch)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ProductVersion is the content of the version characteristic.
type ProductVersion struct {
	// Platform is the version of the platform (SDK) binary
	Platform Version

	// App is the version of the application binary
	App Version
}

func (p ProductVersion) String() string {
	return fmt.Sprintf("platform %s, app %s", p.Platform, p.App)
}

// PageEnd holds the decoded parameters of a PAGE_END command.
type PageEnd struct {
	// Length is the page length in bytes
	Length uint16

	// CRC is the CRC16 of the page payload as transmitted
	CRC uint16

	// Signature is the page signature (secure mode only)
	Signature []byte
}

// Command is a decoded control command.
type Command struct {
	// Opcode is the first byte of the command
	Opcode byte

	// Params holds the bytes following the opcode
	Params []byte
}
