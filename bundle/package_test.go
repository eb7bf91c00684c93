package bundle

import (
	"archive/zip"
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/mod/sumdb/note"

	"github.com/moffa90/go-blefota/protocol"
)

const testManifest = `{
  "platform": {"name": "platform.bin", "address": 16384, "version": [1, 2, 0]},
  "app": {"name": "app.bin", "address": 163840, "version": [1, 0, 3]},
  "entry": 16384,
  "bins": [{"name": "res.bin", "address": 393216}]
}`

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testFiles() map[string]string {
	return map[string]string{
		"pkg/manifest.json": testManifest,
		"pkg/platform.bin":  "PLATFORM",
		"pkg/app.bin":       "APP",
		"pkg/res.bin":       "RES",
		"pkg/readme":        "release 42",
	}
}

func load(t *testing.T, files map[string]string) (*Package, error) {
	t.Helper()
	data := makeZip(t, files)
	return Load(bytes.NewReader(data), int64(len(data)))
}

func TestLoad(t *testing.T) {
	pkg, err := load(t, testFiles())
	require.NoError(t, err)

	require.NotNil(t, pkg.Platform)
	assert.Equal(t, Binary{Name: "platform.bin", Data: []byte("PLATFORM"), LoadAddr: 0x4000}, *pkg.Platform)
	assert.Equal(t, Binary{Name: "app.bin", Data: []byte("APP"), LoadAddr: 0x28000}, *pkg.App)
	assert.Equal(t, []Binary{{Name: "res.bin", Data: []byte("RES"), LoadAddr: 0x60000}}, pkg.Extra)
	assert.Equal(t, protocol.ProductVersion{
		Platform: protocol.Version{Major: 1, Minor: 2},
		App:      protocol.Version{Major: 1, Patch: 3},
	}, pkg.Version)
	assert.Equal(t, uint32(0x4000), pkg.Entry)
	assert.Equal(t, "release 42", pkg.Readme)
	assert.Len(t, pkg.Binaries(), 3)
	assert.ElementsMatch(t, []string{"manifest.json", "platform.bin", "app.bin", "res.bin", "readme"}, pkg.Files())
}

func TestLoadPlatformMissingFromArchive(t *testing.T) {
	files := testFiles()
	delete(files, "pkg/platform.bin")

	pkg, err := load(t, files)
	require.NoError(t, err)
	assert.Nil(t, pkg.Platform)
	assert.Equal(t, protocol.Version{Major: 1, Minor: 2}, pkg.Version.Platform)
}

func TestLoadErrors(t *testing.T) {
	t.Run("no manifest", func(t *testing.T) {
		_, err := load(t, map[string]string{"app.bin": "APP"})
		assert.ErrorIs(t, err, ErrNoManifest)
	})

	t.Run("missing app", func(t *testing.T) {
		files := testFiles()
		delete(files, "pkg/app.bin")
		_, err := load(t, files)
		var missing *MissingFileError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "app", missing.Role)
	})

	t.Run("missing extra", func(t *testing.T) {
		files := testFiles()
		delete(files, "pkg/res.bin")
		_, err := load(t, files)
		var missing *MissingFileError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "res.bin", missing.Name)
	})

	t.Run("bad manifest", func(t *testing.T) {
		_, err := load(t, map[string]string{"manifest.json": "{"})
		assert.ErrorContains(t, err, "parse manifest")
	})

	t.Run("not a zip", func(t *testing.T) {
		_, err := Load(strings.NewReader("nope"), 4)
		assert.Error(t, err)
	})
}

func TestMalformedVersionIsZero(t *testing.T) {
	assert.Equal(t, protocol.Version{}, versionOf([]int64{1, 2}))
	assert.Equal(t, protocol.Version{}, versionOf([]int64{1, 256, 0}))
	assert.Equal(t, protocol.Version{Major: 300, Minor: 2, Patch: 1}, versionOf([]int64{300, 2, 1}))
}

func TestAppOnly(t *testing.T) {
	pkg := AppOnly(0x2000, []byte{1, 2, 3}, "app.bin", "hot fix")
	assert.Nil(t, pkg.Platform)
	assert.Equal(t, uint32(0x2000), pkg.App.LoadAddr)
	assert.Equal(t, "hot fix", pkg.Readme)
	assert.Empty(t, pkg.Extra)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update.zip")
	require.NoError(t, os.WriteFile(path, makeZip(t, testFiles()), 0o600))

	pkg, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "app.bin", pkg.App.Name)

	_, err = Open(filepath.Join(t.TempDir(), "missing.zip"))
	assert.Error(t, err)
}

func TestDownload(t *testing.T) {
	archive := makeZip(t, testFiles())

	mux := http.NewServeMux()
	mux.HandleFunc("/fota/latest.json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Latest{Package: "builds/update-42.zip"})
	})
	mux.HandleFunc("/fota/builds/update-42.zip", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "update-42.zip", time.Time{}, bytes.NewReader(archive))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	pkg, path, err := Download(t.Context(), srv.URL+"/fota", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "update-42.zip"), path)
	assert.Equal(t, "release 42", pkg.Readme)
}

func TestDownloadErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/empty/latest.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/gone/latest.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"package":"missing.zip"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		name   string
		server string
		want   string
	}{
		{name: "no index", server: srv.URL + "/none", want: "unexpected status"},
		{name: "empty package", server: srv.URL + "/empty", want: "package is empty"},
		{name: "missing archive", server: srv.URL + "/gone", want: "download"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Download(t.Context(), tt.server, t.TempDir())
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func signRelease(t *testing.T, signer note.Signer, artifacts map[string][]byte) string {
	t.Helper()
	raw, err := json.MarshalIndent(Release{Description: "test", ArtifactSHA256: artifacts}, "", "  ")
	require.NoError(t, err)
	n, err := note.Sign(&note.Note{Text: string(raw) + "\n"}, signer)
	require.NoError(t, err)
	return string(n)
}

func digest(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

func TestVerifyRelease(t *testing.T) {
	skey, vkey, err := note.GenerateKey(rand.Reader, "blefota-test")
	require.NoError(t, err)
	signer, err := note.NewSigner(skey)
	require.NoError(t, err)
	verifiers, err := NewVerifier(vkey)
	require.NoError(t, err)

	_, otherV, err := note.GenerateKey(rand.Reader, "other")
	require.NoError(t, err)
	otherVerifiers, err := NewVerifier(otherV)
	require.NoError(t, err)

	good := map[string][]byte{"app.bin": digest("APP"), "platform.bin": digest("PLATFORM")}

	tests := []struct {
		name      string
		note      string
		verifiers note.Verifiers
		wantErr   error
		errSubstr string
	}{
		{name: "valid", note: signRelease(t, signer, good), verifiers: verifiers},
		{name: "unknown signer", note: signRelease(t, signer, good), verifiers: otherVerifiers, errSubstr: "invalid signature"},
		{name: "digest mismatch", note: signRelease(t, signer, map[string][]byte{"app.bin": digest("OTHER")}), verifiers: verifiers, errSubstr: "artifact hash"},
		{name: "missing artifact", note: signRelease(t, signer, map[string][]byte{"nope.bin": digest("")}), verifiers: verifiers, errSubstr: "not in the package"},
		{name: "no note", verifiers: verifiers, wantErr: ErrNoReleaseNote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := testFiles()
			if tt.note != "" {
				files["pkg/release.note"] = tt.note
			}
			pkg, err := load(t, files)
			require.NoError(t, err)

			rel, err := VerifyRelease(pkg, tt.verifiers)
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.errSubstr != "":
				assert.ErrorContains(t, err, tt.errSubstr)
			default:
				require.NoError(t, err)
				assert.Equal(t, "test", rel.Description)
			}
		})
	}
}
