// Package image loads application images for FOTA updates.
//
// # Formats
//
// Two formats are accepted:
//
//   - Raw binary (.bin): the file is the image. It carries no address, so the
//     caller supplies the load address.
//   - Intel HEX (.hex, .ihex, .ihx): ASCII records of the form
//
//     :LLAAAATT[DD...]CC
//
//     LL = data length, AAAA = 16-bit address, TT = record type,
//     CC = two's complement of the sum of all preceding record bytes.
//
// Supported record types:
//
//	00 = Data
//	01 = End of file
//	02 = Extended segment address (base = value << 4)
//	03 = Start segment address (CS:IP entry point)
//	04 = Extended linear address (base = value << 16)
//	05 = Start linear address (32-bit entry point)
//
// Gaps between data records are filled with 0xFF, the erased flash value, so the
// image is one contiguous block starting at the lowest address written.
//
// # Usage
//
// Load a file from disk (format chosen by extension, then by content):
//
//	img, err := image.Load("app.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d bytes at 0x%08X\n", len(img.Data), img.Base)
//
// Or parse Intel HEX from any reader:
//
//	img, err := image.ParseHex(strings.NewReader(content))
package image
