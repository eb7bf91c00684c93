package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/mod/sumdb/note"
)

const testManifest = `{
  "platform": {"name": "platform.bin", "address": 16384, "version": [1, 2, 0]},
  "app": {"name": "app.bin", "address": 163840, "version": [1, 0, 3]},
  "entry": 16384,
  "bins": [{"name": "res.bin", "address": 393216}]
}`

func testPackageFiles() map[string]string {
	return map[string]string{
		"manifest.json": testManifest,
		"platform.bin":  strings.Repeat("P", 9000),
		"app.bin":       strings.Repeat("A", 3000),
		"res.bin":       "RES",
		"readme":        "release 42",
	}
}

// isolate keeps tests away from the user's configuration.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("BLEFOTA_CONFIG", "")
	return dir
}

func writeZip(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	path := filepath.Join(dir, "release.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd(buildInfo{Version: "1.2.3", Commit: "abc1234", Date: "2026-01-01"})

	var stdout, stderr bytes.Buffer
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	isolate(t)

	stdout, _, err := runCLI(t, "", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if want := "blefota version 1.2.3 (abc1234, 2026-01-01)"; strings.TrimSpace(stdout) != want {
		t.Errorf("version output = %q, want %q", stdout, want)
	}

	stdout, _, err = runCLI(t, "", "version", "-o", "json")
	if err != nil {
		t.Fatalf("version -o json failed: %v", err)
	}
	var info buildInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("invalid json %q: %v", stdout, err)
	}
	if info.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", info.Commit)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	isolate(t)

	_, _, err := runCLI(t, "", "version", "-o", "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected unknown format error, got %v", err)
	}
}

func TestInspectCommand(t *testing.T) {
	dir := isolate(t)
	path := writeZip(t, dir, testPackageFiles())

	stdout, _, err := runCLI(t, "", "inspect", path)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	for _, want := range []string{"Platform: 1.2.0", "App:      1.0.3", "0x00004000", "platform.bin", "res.bin", "release 42"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("inspect output missing %q:\n%s", want, stdout)
		}
	}
}

func TestInspectVerifyKey(t *testing.T) {
	dir := isolate(t)

	skey, vkey, err := note.GenerateKey(rand.Reader, "blefota-test")
	if err != nil {
		t.Fatal(err)
	}
	signer, err := note.NewSigner(skey)
	if err != nil {
		t.Fatal(err)
	}

	files := testPackageFiles()
	digests := map[string][]byte{}
	for _, name := range []string{"platform.bin", "app.bin"} {
		sum := sha256.Sum256([]byte(files[name]))
		digests[name] = sum[:]
	}
	raw, err := json.Marshal(map[string]interface{}{"description": "nightly", "artifact_sha256": digests})
	if err != nil {
		t.Fatal(err)
	}
	signed, err := note.Sign(&note.Note{Text: string(raw) + "\n"}, signer)
	if err != nil {
		t.Fatal(err)
	}
	files["release.note"] = string(signed)
	path := writeZip(t, dir, files)

	keyFile := filepath.Join(dir, "release.vkey")
	if err := os.WriteFile(keyFile, []byte(vkey+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{vkey, keyFile} {
		stdout, _, err := runCLI(t, "", "inspect", path, "--verify-key", key, "-o", "json")
		if err != nil {
			t.Fatalf("inspect --verify-key %s failed: %v", key, err)
		}
		var res inspectResult
		if err := json.Unmarshal([]byte(stdout), &res); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if res.Release == nil || !res.Release.Verified {
			t.Fatalf("release not verified: %+v", res.Release)
		}
		if res.Release.Description != "nightly" || len(res.Release.Artifacts) != 2 {
			t.Errorf("unexpected release %+v", res.Release)
		}
	}

	_, otherV, err := note.GenerateKey(rand.Reader, "blefota-test")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, "", "inspect", path, "--verify-key", otherV); err == nil {
		t.Error("expected verification failure with a foreign key")
	}
}

func TestPlanCommand(t *testing.T) {
	dir := isolate(t)
	path := writeZip(t, dir, testPackageFiles())

	stdout, _, err := runCLI(t, "", "plan", "--package", path, "--device-version", "1.0.0/1.0.0", "-o", "json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	var res planResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("invalid json %q: %v", stdout, err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("items = %d, want 3: %+v", len(res.Items), res.Items)
	}
	// ING918xx: 512 KiB from 0x4000, 8 KiB pages, filled from the top
	if res.Items[0].Name != "platform.bin" || res.Items[0].WriteAddr != "0x00080000" {
		t.Errorf("platform item = %+v", res.Items[0])
	}
	if res.Items[1].WriteAddr != "0x0007E000" || res.Items[2].WriteAddr != "0x0007C000" {
		t.Errorf("unexpected layout %+v", res.Items)
	}
	if res.Pages != 4 || res.PageSize != 8192 || !res.ManualReboot {
		t.Errorf("pages=%d page_size=%d manual_reboot=%v", res.Pages, res.PageSize, res.ManualReboot)
	}
	// crc(2) + entry(4) + 3 * 12
	if res.Metadata == nil || res.Metadata.Size != 42 || len(res.MetadataHex) != 84 {
		t.Errorf("metadata = %+v, hex %q", res.Metadata, res.MetadataHex)
	}
	if !strings.HasPrefix(res.MetadataHex[4:], "00400000") {
		t.Errorf("metadata entry not little-endian 0x4000: %s", res.MetadataHex)
	}
}

func TestPlanCommandUpToDate(t *testing.T) {
	dir := isolate(t)
	path := writeZip(t, dir, testPackageFiles())

	stdout, _, err := runCLI(t, "", "plan", "--package", path, "--device-version", "1.2.0/1.0.3")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !strings.Contains(stdout, "up to date") {
		t.Errorf("expected up to date, got %q", stdout)
	}
}

func TestPlanCommandRequiresDeviceVersion(t *testing.T) {
	dir := isolate(t)
	path := writeZip(t, dir, testPackageFiles())

	if _, _, err := runCLI(t, "", "plan", "--package", path); err == nil {
		t.Error("expected error without --device-version")
	}
}

func TestSimulateCommand(t *testing.T) {
	dir := isolate(t)
	path := writeZip(t, dir, testPackageFiles())

	stdout, stderr, err := runCLI(t, "", "simulate", "--package", path, "--device-version", "1.0.0/1.0.0", "--fast", "-o", "json")
	if err != nil {
		t.Fatalf("simulate failed: %v\n%s", err, stderr)
	}

	var res updateResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("invalid json %q: %v", stdout, err)
	}
	if res.Result != "updated, rebooting, verified" {
		t.Errorf("result = %q", res.Result)
	}
	if res.Secure {
		t.Error("plain simulator reported secure")
	}
	if res.Bytes != 12003 || len(res.Items) != 3 {
		t.Errorf("bytes = %d, items = %d", res.Bytes, len(res.Items))
	}
	if res.RunID == "" {
		t.Error("missing run id")
	}
	if !strings.Contains(stderr, "version confirmed") || !strings.Contains(stderr, "Unsecure FOTA") {
		t.Errorf("status messages missing from stderr:\n%s", stderr)
	}
}

func TestSimulateSecureApp(t *testing.T) {
	dir := isolate(t)
	app := filepath.Join(dir, "app.bin")
	if err := os.WriteFile(app, bytes.Repeat([]byte{0x5A}, 5000), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, err := runCLI(t, "", "simulate",
		"--app", app, "--load-addr", "0x02010000", "--chip", "ing916xx",
		"--secure", "--fail-pages", "1", "--mtu", "185", "--fast", "-q", "-o", "json")
	if err != nil {
		t.Fatalf("simulate failed: %v\n%s", err, stderr)
	}
	if strings.Contains(stderr, "version confirmed") {
		t.Errorf("quiet run printed status messages:\n%s", stderr)
	}

	var res updateResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("invalid json %q: %v", stdout, err)
	}
	if !res.Secure {
		t.Error("expected secure FOTA")
	}
	if res.Result != "updated, verified" {
		t.Errorf("result = %q", res.Result)
	}
}

func TestSimulateRawBinaryNeedsLoadAddr(t *testing.T) {
	dir := isolate(t)
	app := filepath.Join(dir, "app.bin")
	if err := os.WriteFile(app, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := runCLI(t, "", "simulate", "--app", app)
	if err == nil || !strings.Contains(err.Error(), "--load-addr") {
		t.Errorf("expected --load-addr error, got %v", err)
	}
}

func TestSourceSelection(t *testing.T) {
	dir := isolate(t)
	path := writeZip(t, dir, testPackageFiles())

	if _, _, err := runCLI(t, "", "simulate"); err == nil || !strings.Contains(err.Error(), "nothing to flash") {
		t.Errorf("expected nothing to flash, got %v", err)
	}
	if _, _, err := runCLI(t, "", "simulate", "--package", path, "--app", path); err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("expected mutually exclusive, got %v", err)
	}
}

func TestUpdateRequiresDevice(t *testing.T) {
	dir := isolate(t)
	path := writeZip(t, dir, testPackageFiles())

	_, _, err := runCLI(t, "", "update", "--package", path)
	if err == nil || !strings.Contains(err.Error(), "no device selected") {
		t.Errorf("expected no device selected, got %v", err)
	}
}

func TestConfigFileIsUsed(t *testing.T) {
	dir := isolate(t)
	path := writeZip(t, dir, testPackageFiles())

	cfg := filepath.Join(dir, "blefota.yaml")
	if err := os.WriteFile(cfg, []byte("chip_series: ing916xx\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := runCLI(t, "", "plan", "--config", cfg, "--package", path, "--device-version", "1.0.0/1.0.0", "-o", "json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	var res planResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatal(err)
	}
	if res.Chip != "ing916xx" || res.PageSize != 4096 || res.ManualReboot {
		t.Errorf("config not applied: chip=%s page_size=%d", res.Chip, res.PageSize)
	}

	if _, _, err := runCLI(t, "", "plan", "--config", filepath.Join(dir, "missing.yaml"), "--package", path, "--device-version", "1.0.0"); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}
