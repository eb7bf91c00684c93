package plan

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/moffa90/go-blefota/protocol"
)

// ChipSeries selects a flash layout.
type ChipSeries int

const (
	// ING918xx covers ING9187xx and ING9186xx
	ING918xx ChipSeries = iota

	// ING916xx covers ING9168xx
	ING916xx
)

func (s ChipSeries) String() string {
	switch s {
	case ING918xx:
		return "ing918xx"
	case ING916xx:
		return "ing916xx"
	default:
		return fmt.Sprintf("ChipSeries(%d)", int(s))
	}
}

// ParseChipSeries parses a chip series name such as "ing918xx" or "ING9168".
func ParseChipSeries(s string) (ChipSeries, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch {
	case name == "ing918xx", strings.HasPrefix(name, "ing9187"), strings.HasPrefix(name, "ing9186"), strings.HasPrefix(name, "ing9188"):
		return ING918xx, nil
	case name == "ing916xx", strings.HasPrefix(name, "ing9168"):
		return ING916xx, nil
	default:
		return 0, fmt.Errorf("unknown chip series %q", s)
	}
}

// FlashInfo describes the flash of a chip series.
type FlashInfo struct {
	// BaseAddr is the first flash address
	BaseAddr uint32

	// TotalSize is the flash size in bytes
	TotalSize uint32

	// PageSize is the erase page size in bytes
	PageSize int

	// ManualReboot is set when the device needs an explicit REBOOT
	ManualReboot bool
}

var flashInfos = map[ChipSeries]FlashInfo{
	ING918xx: {BaseAddr: 0x4000, TotalSize: 512 * 1024, PageSize: 8 * 1024, ManualReboot: true},
	ING916xx: {BaseAddr: 0x02000000, TotalSize: 512 * 1024, PageSize: 4 * 1024, ManualReboot: false},
}

// Info returns the flash layout of series.
func Info(series ChipSeries) (FlashInfo, error) {
	info, ok := flashInfos[series]
	if !ok {
		return FlashInfo{}, fmt.Errorf("unknown chip series %d", int(series))
	}
	return info, nil
}

// FlashTop returns the address just past the end of flash.
func FlashTop(series ChipSeries) (uint32, error) {
	info, err := Info(series)
	if err != nil {
		return 0, err
	}
	return info.BaseAddr + info.TotalSize, nil
}

// OutOfFlashError indicates that the items do not fit below the flash top.
type OutOfFlashError struct {
	Item     string
	Required uint32
	Base     uint32
	Top      uint32
}

func (e *OutOfFlashError) Error() string {
	return fmt.Sprintf("item %q does not fit: %d bytes below 0x%08X would pass flash base 0x%08X",
		e.Item, e.Required, e.Top, e.Base)
}

// MakeFlashProcedure lays the items out in flash and builds the metadata.
//
// Items are placed downward from flashTop (the end of flash when zero), each
// taking a whole number of pages. The metadata record is
//
//	crc16(rest) u16 | entry u32 | {writeAddr u32, loadAddr u32, size u32}...
//
// with every field little-endian and the CRC covering everything after it.
func MakeFlashProcedure(p *Plan, series ChipSeries, flashTop uint32) error {
	info, err := Info(series)
	if err != nil {
		return err
	}
	if flashTop == 0 {
		flashTop = info.BaseAddr + info.TotalSize
	}

	p.ManualReboot = info.ManualReboot
	p.PageSize = info.PageSize

	pageSize := uint32(info.PageSize)
	addr := flashTop
	for i := range p.Items {
		item := &p.Items[i]
		size := (uint32(len(item.Data)) + pageSize - 1) / pageSize * pageSize
		if addr < info.BaseAddr || size > addr-info.BaseAddr {
			return &OutOfFlashError{Item: item.Name, Required: size, Base: info.BaseAddr, Top: addr}
		}
		addr -= size
		item.WriteAddr = addr
	}

	meta := make([]byte, protocol.MetadataHeaderSize+4+len(p.Items)*12)
	off := protocol.MetadataHeaderSize
	binary.LittleEndian.PutUint32(meta[off:], p.Entry)
	off += 4
	for _, item := range p.Items {
		binary.LittleEndian.PutUint32(meta[off:], item.WriteAddr)
		binary.LittleEndian.PutUint32(meta[off+4:], item.LoadAddr)
		binary.LittleEndian.PutUint32(meta[off+8:], uint32(len(item.Data)))
		off += 12
	}
	binary.LittleEndian.PutUint16(meta, protocol.CRC16(meta[protocol.MetadataHeaderSize:]))

	p.MetaData = UpdateItem{Name: "metadata", Data: meta}
	return nil
}
