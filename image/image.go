package image

import "fmt"

// Format identifies the file format an image was loaded from.
type Format string

const (
	FormatBinary   Format = "bin"
	FormatIntelHex Format = "ihex"
)

// Image is a contiguous firmware image.
type Image struct {
	// Format is the source file format
	Format Format

	// Base is the address of Data[0]; always 0 for raw binaries
	Base uint32

	// Data is the image contents, gaps filled with 0xFF
	Data []byte

	// Entry is the start address from a type 03 or 05 record
	Entry uint32

	// HasEntry reports whether the file declared an entry point
	HasEntry bool
}

// End returns the address one past the last byte of the image.
func (img *Image) End() uint32 {
	return img.Base + uint32(len(img.Data))
}

// String returns a short description of the image.
func (img *Image) String() string {
	return fmt.Sprintf("%s image, %d bytes at 0x%08X", img.Format, len(img.Data), img.Base)
}
