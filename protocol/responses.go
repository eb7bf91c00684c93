package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ParseStatus extracts the status byte from a control characteristic read.
// An empty read is reported as StatusError.
func ParseStatus(value []byte) Status {
	if len(value) == 0 {
		return StatusError
	}
	return Status(value[0])
}

// ParseVersion decodes a version at the start of data.
//
// Data format (VersionSize bytes):
//
//	[MAJOR_L][MAJOR_H][MINOR][PATCH]
func ParseVersion(data []byte) (Version, error) {
	if len(data) < VersionSize {
		return Version{}, fmt.Errorf("version too short: got %d bytes, expected %d", len(data), VersionSize)
	}

	return Version{
		Major: binary.LittleEndian.Uint16(data[0:2]),
		Minor: data[2],
		Patch: data[3],
	}, nil
}

// ParseProductVersion decodes the version characteristic value.
//
// Data format:
//
//	[PLATFORM(4)][APP(4)]
//
// The platform version is required. A value without the app half yields a
// zero app version.
func ParseProductVersion(value []byte) (*ProductVersion, error) {
	platform, err := ParseVersion(value)
	if err != nil {
		return nil, fmt.Errorf("platform version: %w", err)
	}

	pv := &ProductVersion{Platform: platform}
	if len(value) >= AppVersionOffset+VersionSize {
		pv.App, _ = ParseVersion(value[AppVersionOffset:])
	}

	return pv, nil
}

// EncodeProductVersion is the inverse of ParseProductVersion.
func EncodeProductVersion(pv ProductVersion) []byte {
	b := make([]byte, 0, 2*VersionSize)
	for _, v := range []Version{pv.Platform, pv.App} {
		b = binary.LittleEndian.AppendUint16(b, v.Major)
		b = append(b, v.Minor, v.Patch)
	}
	return b
}

// ParseVersionString parses "major.minor.patch". Missing components are zero.
func ParseVersionString(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	var nums [3]uint64
	limits := [3]int{16, 8, 8}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, limits[i])
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		nums[i] = n
	}

	return Version{Major: uint16(nums[0]), Minor: uint8(nums[1]), Patch: uint8(nums[2])}, nil
}
