package image

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Constants for Intel HEX parsing.
const (
	// MinimumRecordLength is the shortest record in hex characters after ':'
	// (length + address + type + checksum)
	MinimumRecordLength = 10

	// MaxImageSize bounds the span between the lowest and highest address
	MaxImageSize = 16 << 20

	// Fill is the value of bytes not covered by any data record
	Fill = 0xFF
)

// Intel HEX record types.
const (
	RecordData                   = 0x00
	RecordEOF                    = 0x01
	RecordExtendedSegmentAddress = 0x02
	RecordStartSegmentAddress    = 0x03
	RecordExtendedLinearAddress  = 0x04
	RecordStartLinearAddress     = 0x05
)

// Load reads an image from path. Files named *.hex, *.ihex or *.ihx are parsed
// as Intel HEX, *.bin as a raw binary; otherwise the content decides.
//
// Example:
//
//	img, err := image.Load("app.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return ParseHex(bytes.NewReader(data))
	case ".bin":
		return ParseBinary(data)
	}

	if looksLikeHex(data) {
		return ParseHex(bytes.NewReader(data))
	}
	return ParseBinary(data)
}

// ParseBinary wraps raw image bytes. The data is copied.
func ParseBinary(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return &Image{
		Format: FormatBinary,
		Data:   append([]byte(nil), data...),
	}, nil
}

// looksLikeHex reports whether data starts like an Intel HEX file.
func looksLikeHex(data []byte) bool {
	s := bytes.TrimLeft(data, " \t\r\n")
	if len(s) == 0 || s[0] != ':' {
		return false
	}
	line := s[1:]
	if i := bytes.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	if len(line) < MinimumRecordLength {
		return false
	}
	_, err := hex.DecodeString(string(line))
	return err == nil
}

type record struct {
	length  int
	address uint16
	kind    byte
	data    []byte
}

type segment struct {
	addr uint32
	data []byte
}

// ParseHex parses an Intel HEX file from any io.Reader.
//
// Example:
//
//	data := strings.NewReader(":0400000001020304F2\n:00000001FF\n")
//	img, err := image.ParseHex(data)
func ParseHex(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), 1<<20)

	img := &Image{Format: FormatIntelHex}
	var (
		segments []segment
		upper    uint32
		eof      bool
	)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines
		if line == "" {
			continue
		}
		if eof {
			return nil, fmt.Errorf("line %d: record after end of file", lineNum)
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.kind {
		case RecordData:
			if rec.length > 0 {
				segments = append(segments, segment{
					addr: upper + uint32(rec.address),
					data: rec.data,
				})
			}
		case RecordEOF:
			eof = true
		case RecordExtendedSegmentAddress:
			if rec.length != 2 {
				return nil, fmt.Errorf("line %d: extended segment address needs 2 bytes, got %d", lineNum, rec.length)
			}
			upper = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 4
		case RecordExtendedLinearAddress:
			if rec.length != 2 {
				return nil, fmt.Errorf("line %d: extended linear address needs 2 bytes, got %d", lineNum, rec.length)
			}
			upper = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 16
		case RecordStartSegmentAddress:
			if rec.length != 4 {
				return nil, fmt.Errorf("line %d: start segment address needs 4 bytes, got %d", lineNum, rec.length)
			}
			cs := uint32(rec.data[0])<<8 | uint32(rec.data[1])
			ip := uint32(rec.data[2])<<8 | uint32(rec.data[3])
			img.Entry = cs<<4 + ip
			img.HasEntry = true
		case RecordStartLinearAddress:
			if rec.length != 4 {
				return nil, fmt.Errorf("line %d: start linear address needs 4 bytes, got %d", lineNum, rec.length)
			}
			img.Entry = uint32(rec.data[0])<<24 | uint32(rec.data[1])<<16 |
				uint32(rec.data[2])<<8 | uint32(rec.data[3])
			img.HasEntry = true
		default:
			return nil, fmt.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.kind)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if !eof {
		return nil, fmt.Errorf("missing end of file record")
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no data records found in file")
	}

	if err := assemble(img, segments); err != nil {
		return nil, err
	}
	return img, nil
}

// parseRecord decodes and verifies one record line.
func parseRecord(line string) (*record, error) {
	if line[0] != ':' {
		return nil, fmt.Errorf("record must start with ':'")
	}
	line = line[1:]

	if len(line) < MinimumRecordLength {
		return nil, fmt.Errorf("record too short: got %d characters, minimum is %d", len(line), MinimumRecordLength)
	}

	raw, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}

	length := int(raw[0])
	if len(raw) != length+5 {
		return nil, fmt.Errorf("data length mismatch: got %d bytes, expected %d", len(raw)-5, length)
	}

	// Sum of every byte including the checksum must be zero
	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X",
			raw[len(raw)-1], calculateChecksum(raw[:len(raw)-1]))
	}

	return &record{
		length:  length,
		address: uint16(raw[1])<<8 | uint16(raw[2]),
		kind:    raw[3],
		data:    raw[4 : 4+length],
	}, nil
}

// calculateChecksum computes the Intel HEX checksum of a record without its
// checksum byte.
func calculateChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}

// assemble merges data segments into img.Data, filling gaps.
func assemble(img *Image, segments []segment) error {
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].addr < segments[j].addr })

	base := segments[0].addr
	var end uint64
	for _, s := range segments {
		if e := uint64(s.addr) + uint64(len(s.data)); e > end {
			end = e
		}
	}
	if end-uint64(base) > MaxImageSize {
		return fmt.Errorf("image spans %d bytes, maximum is %d", end-uint64(base), MaxImageSize)
	}

	data := bytes.Repeat([]byte{Fill}, int(end-uint64(base)))
	covered := make([]bool, len(data))
	for _, s := range segments {
		off := int(s.addr - base)
		for i := range s.data {
			if covered[off+i] {
				return fmt.Errorf("overlapping data at 0x%08X", s.addr+uint32(i))
			}
			covered[off+i] = true
		}
		copy(data[off:], s.data)
	}

	img.Base = base
	img.Data = data
	return nil
}
