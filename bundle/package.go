package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/moffa90/go-blefota/protocol"
)

const (
	// ManifestName is the name of the manifest entry.
	ManifestName = "manifest.json"

	// ReadmeName is the name of the optional readme entry.
	ReadmeName = "readme"

	// ReleaseNoteName is the name of the optional signed release note.
	ReleaseNoteName = "release.note"
)

// ErrNoManifest is returned when the archive has no manifest.json.
var ErrNoManifest = errors.New("package has no " + ManifestName)

// MissingFileError indicates that the manifest names a file the archive lacks.
type MissingFileError struct {
	Role string
	Name string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("%s binary %q not found in package", e.Role, e.Name)
}

// Binary is one firmware binary of a package.
type Binary struct {
	// Name is the file name inside the archive
	Name string

	// Data is the binary content
	Data []byte

	// LoadAddr is the address the binary runs from
	LoadAddr uint32
}

// Package is a loaded update package.
type Package struct {
	// Platform is the platform binary, nil for app-only packages
	Platform *Binary

	// App is the application binary
	App *Binary

	// Extra holds additional binaries, always flashed
	Extra []Binary

	// Version is the product version the package carries
	Version protocol.ProductVersion

	// Entry is the entry address recorded in metadata
	Entry uint32

	// Readme is the readme text, empty when absent
	Readme string

	files map[string][]byte
}

// File returns the raw content of an archive entry by base name.
func (p *Package) File(name string) ([]byte, bool) {
	data, ok := p.files[name]
	return data, ok
}

// Files returns the base names of all archive entries.
func (p *Package) Files() []string {
	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	return names
}

// Binaries returns every binary of the package: platform (if any), app, extras.
func (p *Package) Binaries() []Binary {
	var out []Binary
	if p.Platform != nil {
		out = append(out, *p.Platform)
	}
	if p.App != nil {
		out = append(out, *p.App)
	}
	return append(out, p.Extra...)
}

type manifestBinary struct {
	Name    string  `json:"name"`
	Address uint32  `json:"address"`
	Version []int64 `json:"version,omitempty"`
}

type manifest struct {
	Platform *manifestBinary  `json:"platform,omitempty"`
	App      *manifestBinary  `json:"app"`
	Entry    uint32           `json:"entry"`
	Bins     []manifestBinary `json:"bins"`
}

// Open loads the package at path.
func Open(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	return Load(bytes.NewReader(data), int64(len(data)))
}

// Load loads a package from a zip archive of the given size.
func Load(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		files[path.Base(f.Name)] = data
	}

	raw, ok := files[ManifestName]
	if !ok {
		return nil, ErrNoManifest
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.App == nil {
		return nil, fmt.Errorf("parse manifest: app is required")
	}

	pkg := &Package{
		Entry:  m.Entry,
		Readme: string(files[ReadmeName]),
		files:  files,
	}

	// a platform listed in the manifest but absent from the archive is an
	// app-only update
	if m.Platform != nil {
		pkg.Version.Platform = versionOf(m.Platform.Version)
		if data, ok := files[m.Platform.Name]; ok {
			pkg.Platform = &Binary{Name: m.Platform.Name, Data: data, LoadAddr: m.Platform.Address}
		}
	}

	data, ok := files[m.App.Name]
	if !ok {
		return nil, &MissingFileError{Role: "app", Name: m.App.Name}
	}
	pkg.App = &Binary{Name: m.App.Name, Data: data, LoadAddr: m.App.Address}
	pkg.Version.App = versionOf(m.App.Version)

	for _, b := range m.Bins {
		data, ok := files[b.Name]
		if !ok {
			return nil, &MissingFileError{Role: "extra", Name: b.Name}
		}
		pkg.Extra = append(pkg.Extra, Binary{Name: b.Name, Data: data, LoadAddr: b.Address})
	}

	return pkg, nil
}

// AppOnly builds a package holding a single app binary. The package has no
// platform, so the app is always selected for flashing.
func AppOnly(loadAddr uint32, bin []byte, name, readme string) *Package {
	return &Package{
		App:    &Binary{Name: name, Data: bin, LoadAddr: loadAddr},
		Readme: readme,
		files:  map[string][]byte{name: bin},
	}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// versionOf converts a manifest version array. Malformed arrays yield 0.0.0.
func versionOf(v []int64) protocol.Version {
	if len(v) < 3 {
		return protocol.Version{}
	}
	if v[0] < 0 || v[0] > 0xFFFF || v[1] < 0 || v[1] > 0xFF || v[2] < 0 || v[2] > 0xFF {
		return protocol.Version{}
	}
	return protocol.Version{Major: uint16(v[0]), Minor: uint8(v[1]), Patch: uint8(v[2])}
}
