package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildStartCmd constructs the START command that enables FOTA.
//
// Command structure:
//
//	[0xAA][0x00][0x00][0x00][0x00]
func BuildStartCmd() []byte {
	cmd := make([]byte, StartCmdSize)
	cmd[0] = CmdStart
	return cmd
}

// BuildPageBeginCmd constructs a PAGE_BEGIN command for the page at addr.
//
// Command structure:
//
//	[0xB0][ADDR_0][ADDR_1][ADDR_2][ADDR_3]
func BuildPageBeginCmd(addr uint32) []byte {
	cmd := make([]byte, PageBeginCmdSize)
	cmd[0] = CmdPageBegin
	binary.LittleEndian.PutUint32(cmd[1:], addr)
	return cmd
}

// BuildPageEndCmd constructs a PAGE_END command.
// The signature is appended verbatim when non-empty (secure mode).
//
// Command structure:
//
//	[0xB1][LEN_L][LEN_H][CRC_L][CRC_H][SIGNATURE...]
//
// Returns an error if length does not fit the 16-bit field.
func BuildPageEndCmd(length int, crc uint16, sig []byte) ([]byte, error) {
	if length < 0 || length > MaxPageLength {
		return nil, fmt.Errorf("page length %d out of range (max %d)", length, MaxPageLength)
	}

	cmd := make([]byte, PageEndCmdSize, PageEndCmdSize+len(sig))
	cmd[0] = CmdPageEnd
	binary.LittleEndian.PutUint16(cmd[1:3], uint16(length))
	binary.LittleEndian.PutUint16(cmd[3:5], crc)
	cmd = append(cmd, sig...)

	return cmd, nil
}

// BuildReadPageCmd constructs a READ_PAGE command.
//
// Command structure:
//
//	[0xC0][ADDR(4)]
func BuildReadPageCmd(addr uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdReadPage
	binary.LittleEndian.PutUint32(cmd[1:], addr)
	return cmd
}

// BuildSwitchAppCmd constructs a SWITCH_APP command.
func BuildSwitchAppCmd() []byte {
	return []byte{CmdSwitchApp}
}

// BuildMetadataCmd constructs a METADATA command carrying payload.
//
// Command structure:
//
//	[0xE0][PAYLOAD...]
func BuildMetadataCmd(payload []byte) []byte {
	cmd := make([]byte, 0, 1+len(payload))
	cmd = append(cmd, CmdMetadata)
	return append(cmd, payload...)
}

// BuildSecureMetadataPayload lays out a secure metadata payload.
// The CRC covers the ciphertext. The header is the plaintext metadata prefix.
//
// Payload structure:
//
//	[SIGNATURE(64)][CRC_L][CRC_H][HEADER(2)][CIPHERTEXT...]
func BuildSecureMetadataPayload(sig, header, ciphertext []byte) ([]byte, error) {
	if len(header) != MetadataHeaderSize {
		return nil, fmt.Errorf("metadata header must be %d bytes, got %d", MetadataHeaderSize, len(header))
	}

	payload := make([]byte, 0, len(sig)+2+len(header)+len(ciphertext))
	payload = append(payload, sig...)
	payload = binary.LittleEndian.AppendUint16(payload, CRC16(ciphertext))
	payload = append(payload, header...)
	payload = append(payload, ciphertext...)

	return payload, nil
}

// BuildRebootCmd constructs the REBOOT command.
func BuildRebootCmd() []byte {
	return []byte{CmdReboot}
}

// ParseCommand splits a control write into opcode and parameters.
func ParseCommand(cmd []byte) (Command, error) {
	if len(cmd) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	return Command{Opcode: cmd[0], Params: cmd[1:]}, nil
}

// ParsePageBeginCmd decodes the address of a PAGE_BEGIN command.
func ParsePageBeginCmd(cmd []byte) (uint32, error) {
	if len(cmd) != PageBeginCmdSize {
		return 0, fmt.Errorf("invalid PAGE_BEGIN length: got %d bytes, expected %d", len(cmd), PageBeginCmdSize)
	}
	if cmd[0] != CmdPageBegin {
		return 0, fmt.Errorf("invalid opcode: got 0x%02X, expected 0x%02X", cmd[0], CmdPageBegin)
	}
	return binary.LittleEndian.Uint32(cmd[1:]), nil
}

// ParsePageEndCmd decodes a PAGE_END command. Any bytes after the CRC are
// returned as the signature.
func ParsePageEndCmd(cmd []byte) (*PageEnd, error) {
	if len(cmd) < PageEndCmdSize {
		return nil, fmt.Errorf("PAGE_END too short: got %d bytes, minimum is %d", len(cmd), PageEndCmdSize)
	}
	if cmd[0] != CmdPageEnd {
		return nil, fmt.Errorf("invalid opcode: got 0x%02X, expected 0x%02X", cmd[0], CmdPageEnd)
	}

	end := &PageEnd{
		Length: binary.LittleEndian.Uint16(cmd[1:3]),
		CRC:    binary.LittleEndian.Uint16(cmd[3:5]),
	}
	if len(cmd) > PageEndCmdSize {
		end.Signature = append([]byte(nil), cmd[PageEndCmdSize:]...)
	}

	return end, nil
}
