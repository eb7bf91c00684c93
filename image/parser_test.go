package image

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// rec builds an Intel HEX record line with a valid checksum.
func rec(addr uint16, kind byte, data ...byte) string {
	raw := []byte{byte(len(data)), byte(addr >> 8), byte(addr), kind}
	raw = append(raw, data...)
	raw = append(raw, calculateChecksum(raw))
	return ":" + strings.ToUpper(hex.EncodeToString(raw)) + "\n"
}

const eofRecord = ":00000001FF\n"

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Image
		wantErr bool
		errMsg  string
	}{
		{
			name:  "single data record",
			input: ":0400000001020304F2\n" + eofRecord,
			want: &Image{
				Format: FormatIntelHex,
				Base:   0,
				Data:   []byte{0x01, 0x02, 0x03, 0x04},
			},
		},
		{
			name: "extended linear address",
			input: ":020000040800F2\n" +
				rec(0x0010, RecordData, 0xAA, 0xBB) +
				eofRecord,
			want: &Image{
				Format: FormatIntelHex,
				Base:   0x08000010,
				Data:   []byte{0xAA, 0xBB},
			},
		},
		{
			name: "extended segment address",
			input: rec(0, RecordExtendedSegmentAddress, 0x10, 0x00) +
				rec(0x0004, RecordData, 0x11) +
				eofRecord,
			want: &Image{
				Format: FormatIntelHex,
				Base:   0x00010004,
				Data:   []byte{0x11},
			},
		},
		{
			name: "gap filled with 0xFF",
			input: rec(0x4000, RecordData, 0x01, 0x02) +
				rec(0x4005, RecordData, 0x03) +
				eofRecord,
			want: &Image{
				Format: FormatIntelHex,
				Base:   0x4000,
				Data:   []byte{0x01, 0x02, 0xFF, 0xFF, 0xFF, 0x03},
			},
		},
		{
			name: "records out of order",
			input: rec(0x0002, RecordData, 0x03, 0x04) +
				rec(0x0000, RecordData, 0x01, 0x02) +
				eofRecord,
			want: &Image{
				Format: FormatIntelHex,
				Base:   0,
				Data:   []byte{0x01, 0x02, 0x03, 0x04},
			},
		},
		{
			name: "start linear address",
			input: rec(0, RecordData, 0x01) +
				rec(0, RecordStartLinearAddress, 0x00, 0x00, 0x40, 0x01) +
				eofRecord,
			want: &Image{
				Format:   FormatIntelHex,
				Data:     []byte{0x01},
				Entry:    0x4001,
				HasEntry: true,
			},
		},
		{
			name: "start segment address",
			input: rec(0, RecordData, 0x01) +
				rec(0, RecordStartSegmentAddress, 0x01, 0x00, 0x00, 0x20) +
				eofRecord,
			want: &Image{
				Format:   FormatIntelHex,
				Data:     []byte{0x01},
				Entry:    0x1020,
				HasEntry: true,
			},
		},
		{
			name:  "CRLF line endings and blank lines",
			input: "\r\n:0400000001020304F2\r\n\r\n:00000001FF\r\n",
			want: &Image{
				Format: FormatIntelHex,
				Data:   []byte{0x01, 0x02, 0x03, 0x04},
			},
		},
		{
			name:    "bad checksum",
			input:   ":0400000001020304F3\n" + eofRecord,
			wantErr: true,
			errMsg:  "checksum mismatch",
		},
		{
			name:    "missing colon",
			input:   "0400000001020304F2\n" + eofRecord,
			wantErr: true,
			errMsg:  "must start with ':'",
		},
		{
			name:    "record too short",
			input:   ":0000\n",
			wantErr: true,
			errMsg:  "record too short",
		},
		{
			name:    "invalid hex",
			input:   ":04000000010203ZZF2\n",
			wantErr: true,
			errMsg:  "invalid hex",
		},
		{
			name:    "length mismatch",
			input:   ":0500000001020304F1\n",
			wantErr: true,
			errMsg:  "data length mismatch",
		},
		{
			name:    "unknown record type",
			input:   rec(0, 0x06, 0x00) + eofRecord,
			wantErr: true,
			errMsg:  "unknown record type 0x06",
		},
		{
			name:    "missing EOF",
			input:   ":0400000001020304F2\n",
			wantErr: true,
			errMsg:  "missing end of file",
		},
		{
			name:    "data after EOF",
			input:   eofRecord + ":0400000001020304F2\n",
			wantErr: true,
			errMsg:  "after end of file",
		},
		{
			name:    "no data",
			input:   eofRecord,
			wantErr: true,
			errMsg:  "no data records",
		},
		{
			name:    "overlapping data",
			input:   rec(0, RecordData, 0x01, 0x02) + rec(1, RecordData, 0x03) + eofRecord,
			wantErr: true,
			errMsg:  "overlapping data at 0x00000001",
		},
		{
			name:    "bad extended address length",
			input:   rec(0, RecordExtendedLinearAddress, 0x08) + eofRecord,
			wantErr: true,
			errMsg:  "needs 2 bytes",
		},
		{
			name: "span too large",
			input: rec(0, RecordData, 0x01) +
				rec(0, RecordExtendedLinearAddress, 0x10, 0x00) +
				rec(0, RecordData, 0x02) +
				eofRecord,
			wantErr: true,
			errMsg:  "image spans",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(strings.NewReader(tt.input))

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
					return
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want error containing %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got.Format != tt.want.Format {
				t.Errorf("Format = %q, want %q", got.Format, tt.want.Format)
			}
			if got.Base != tt.want.Base {
				t.Errorf("Base = 0x%08X, want 0x%08X", got.Base, tt.want.Base)
			}
			if !bytes.Equal(got.Data, tt.want.Data) {
				t.Errorf("Data = %X, want %X", got.Data, tt.want.Data)
			}
			if got.Entry != tt.want.Entry || got.HasEntry != tt.want.HasEntry {
				t.Errorf("Entry = 0x%X (%v), want 0x%X (%v)", got.Entry, got.HasEntry, tt.want.Entry, tt.want.HasEntry)
			}
		})
	}
}

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		data []byte
		want byte
	}{
		{[]byte{0x04, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04}, 0xF2},
		{[]byte{0x00, 0x00, 0x00, 0x01}, 0xFF},
		{[]byte{0x02, 0x00, 0x00, 0x04, 0x08, 0x00}, 0xF2},
		{[]byte{}, 0x00},
	}

	for _, tt := range tests {
		if got := calculateChecksum(tt.data); got != tt.want {
			t.Errorf("calculateChecksum(%X) = 0x%02X, want 0x%02X", tt.data, got, tt.want)
		}
	}
}

func TestParseBinary(t *testing.T) {
	src := []byte{1, 2, 3}
	img, err := ParseBinary(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src[0] = 9
	if !bytes.Equal(img.Data, []byte{1, 2, 3}) {
		t.Errorf("Data = %v, want a copy of the input", img.Data)
	}
	if img.Format != FormatBinary || img.Base != 0 {
		t.Errorf("got %s", img)
	}

	if _, err := ParseBinary(nil); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	hexContent := ":0400000001020304F2\n" + eofRecord

	tests := []struct {
		name       string
		file       string
		content    string
		wantFormat Format
		wantLen    int
	}{
		{"hex extension", "app.hex", hexContent, FormatIntelHex, 4},
		{"ihex extension", "app.IHEX", hexContent, FormatIntelHex, 4},
		{"bin extension keeps text", "app.bin", hexContent, FormatBinary, len(hexContent)},
		{"sniffed hex", "app.fw", hexContent, FormatIntelHex, 4},
		{"sniffed binary", "app.fw", "\x00\x01\x02", FormatBinary, 3},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("%d-%s", i, tt.file))
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			img, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if img.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", img.Format, tt.wantFormat)
			}
			if len(img.Data) != tt.wantLen {
				t.Errorf("len(Data) = %d, want %d", len(img.Data), tt.wantLen)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "nope.bin")); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestImageEnd(t *testing.T) {
	img := &Image{Format: FormatIntelHex, Base: 0x4000, Data: make([]byte, 0x100)}
	if img.End() != 0x4100 {
		t.Errorf("End() = 0x%X, want 0x4100", img.End())
	}
	if !strings.Contains(img.String(), "256 bytes at 0x00004000") {
		t.Errorf("String() = %q", img.String())
	}
}
