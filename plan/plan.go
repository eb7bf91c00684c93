// Package plan describes what an update run writes to the device.
//
// A Plan is an ordered list of items plus one metadata record and the transfer
// parameters. Plans are usually built from an update package with FromPackage
// and then laid out in flash with MakeFlashProcedure:
//
//	p := plan.FromPackage(pkg, *deviceVersion)
//	if err := plan.MakeFlashProcedure(p, plan.ING918xx, 0); err != nil {
//	    log.Fatal(err)
//	}
package plan

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-blefota/bundle"
	"github.com/moffa90/go-blefota/protocol"
)

// UpdateItem is one region to write. The same type carries the metadata record.
type UpdateItem struct {
	// Name is used for diagnostics only
	Name string

	// Data is the content to write; it is never modified
	Data []byte

	// WriteAddr is the flash address the data is written to
	WriteAddr uint32

	// LoadAddr is the address the firmware runs from, recorded in metadata
	LoadAddr uint32
}

// Plan is an update plan. It must not be modified while a run uses it.
type Plan struct {
	// Items are written in order
	Items []UpdateItem

	// MetaData is committed after every item is written
	MetaData UpdateItem

	// PageSize is the flash page size; items are sent page by page
	PageSize int

	// ManualReboot makes the engine send REBOOT after the metadata
	ManualReboot bool

	// Entry is the entry address recorded in metadata
	Entry uint32

	// Platform and App report which package binaries were selected
	Platform bool
	App      bool
}

// ErrNoMetadata is returned by Validate for plans without a metadata record.
var ErrNoMetadata = errors.New("plan has no metadata")

// Validate checks that the plan can be executed.
func (p *Plan) Validate() error {
	if p.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", p.PageSize)
	}
	if p.PageSize > protocol.MaxPageLength {
		return fmt.Errorf("page size %d exceeds %d", p.PageSize, protocol.MaxPageLength)
	}
	if len(p.MetaData.Data) == 0 {
		return ErrNoMetadata
	}
	return nil
}

// TotalBytes returns the number of item bytes the plan writes.
func (p *Plan) TotalBytes() int {
	total := 0
	for _, item := range p.Items {
		total += len(item.Data)
	}
	return total
}

// UpToDate reports whether neither the platform nor the app was selected.
// Extra binaries alone do not make an update.
func (p *Plan) UpToDate() bool {
	return !p.Platform && !p.App
}

// Pages returns the number of pages the plan writes.
func (p *Plan) Pages() int {
	if p.PageSize <= 0 {
		return 0
	}
	n := 0
	for _, item := range p.Items {
		n += len(Split(len(item.Data), p.PageSize))
	}
	return n
}

// Span is a half-open byte range [Offset, Offset+Length).
type Span struct {
	Offset int
	Length int
}

// End returns the offset just past the span.
func (s Span) End() int {
	return s.Offset + s.Length
}

// Split partitions [0, n) into consecutive spans of size bytes; the last span
// may be shorter. It returns nil when n <= 0 or size <= 0.
func Split(n, size int) []Span {
	if n <= 0 || size <= 0 {
		return nil
	}

	spans := make([]Span, 0, (n+size-1)/size)
	for off := 0; off < n; off += size {
		spans = append(spans, Span{Offset: off, Length: min(size, n-off)})
	}
	return spans
}

// FromPackage selects the binaries of pkg that dev needs.
//
// When the package has a platform binary, the platform is selected if its
// version differs from the device's, and the app is selected if the platform
// is or if the package app is newer. Without a platform binary the app is
// always selected. Extra binaries are always included; callers use UpToDate
// to skip a run that would write nothing else.
func FromPackage(pkg *bundle.Package, dev protocol.ProductVersion) *Plan {
	p := &Plan{Entry: pkg.Entry}

	if pkg.Platform != nil {
		p.Platform = pkg.Version.Platform.Compare(dev.Platform) != 0
		p.App = pkg.App != nil && (p.Platform || pkg.Version.App.Compare(dev.App) > 0)
	} else {
		p.App = pkg.App != nil
	}

	if p.Platform {
		p.Items = append(p.Items, itemOf(*pkg.Platform))
	}
	if p.App {
		p.Items = append(p.Items, itemOf(*pkg.App))
	}
	for _, b := range pkg.Extra {
		p.Items = append(p.Items, itemOf(b))
	}

	return p
}

func itemOf(b bundle.Binary) UpdateItem {
	return UpdateItem{Name: b.Name, Data: b.Data, LoadAddr: b.LoadAddr}
}
