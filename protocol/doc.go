// Package protocol implements the INGChips FOTA control protocol spoken over BLE GATT.
//
// This package provides functions to build control commands and parse the values read
// back from the FOTA service characteristics. It performs no I/O.
//
// # Protocol Overview
//
// The FOTA service exposes four (optionally five) characteristics:
//
//	version  - product version, platform then app (read)
//	control  - opcode commands (write) and a single status byte (read)
//	data     - raw page payload chunks (write)
//	pubkey   - device session public key; present only on secure devices
//
// Every control command starts with a single opcode byte. Multi-byte parameters
// are little-endian:
//
//	START:      [0xAA][0x00 0x00 0x00 0x00]
//	PAGE_BEGIN: [0xB0][ADDR(4)]
//	PAGE_END:   [0xB1][LEN(2)][CRC16(2)][SIGNATURE(64), secure only]
//	METADATA:   [0xE0][PAYLOAD...]
//	REBOOT:     [0xFF]
//
// # Command Builders
//
// Use the Build* functions to create control commands:
//
//	cmd := protocol.BuildPageBeginCmd(0x00024000)
//	cmd, err := protocol.BuildPageEndCmd(len(page), protocol.CRC16(page), sig)
//
// # Status Parsing
//
// The control characteristic reads back one status byte:
//
//	status := protocol.ParseStatus(value)
//	if status != protocol.StatusOK {
//	    return &protocol.CommandError{Operation: "page begin", Status: status}
//	}
package protocol
