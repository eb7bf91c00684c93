// Package config handles blefota configuration file parsing and location
// resolution.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/moffa90/go-blefota/plan"
)

// EnvConfig names the environment variable holding an explicit config path.
const EnvConfig = "BLEFOTA_CONFIG"

// Duration is a time.Duration written as a string ("10ms", "30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Device selects the target device.
type Device struct {
	Address     string   `yaml:"address,omitempty" toml:"address,omitempty" json:"address,omitempty"`
	Name        string   `yaml:"name,omitempty" toml:"name,omitempty" json:"name,omitempty"`
	ScanTimeout Duration `yaml:"scan_timeout,omitempty" toml:"scan_timeout,omitempty" json:"scan_timeout,omitempty"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level,omitempty" toml:"level,omitempty" json:"level,omitempty"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" toml:"format,omitempty" json:"format,omitempty"` // text, json
}

// File represents the parsed configuration file. Zero values mean "use the
// default".
type File struct {
	Device      Device   `yaml:"device" toml:"device" json:"device"`
	ChipSeries  string   `yaml:"chip_series,omitempty" toml:"chip_series,omitempty" json:"chip_series,omitempty"`
	FlashTop    string   `yaml:"flash_top,omitempty" toml:"flash_top,omitempty" json:"flash_top,omitempty"` // hex or decimal address
	RootKey     string   `yaml:"root_key,omitempty" toml:"root_key,omitempty" json:"root_key,omitempty"`    // path to the PEM root key
	Server      string   `yaml:"server,omitempty" toml:"server,omitempty" json:"server,omitempty"`          // online package server
	TargetMTU   int      `yaml:"target_mtu,omitempty" toml:"target_mtu,omitempty" json:"target_mtu,omitempty"`
	ChunkDelay  Duration `yaml:"chunk_delay,omitempty" toml:"chunk_delay,omitempty" json:"chunk_delay,omitempty"`
	PageDelay   Duration `yaml:"page_delay,omitempty" toml:"page_delay,omitempty" json:"page_delay,omitempty"`
	Retries     int      `yaml:"retries,omitempty" toml:"retries,omitempty" json:"retries,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
	PollTimeout Duration `yaml:"poll_timeout,omitempty" toml:"poll_timeout,omitempty" json:"poll_timeout,omitempty"`
	Log         Log      `yaml:"log" toml:"log" json:"log"`
	MetricsFile string   `yaml:"metrics_file,omitempty" toml:"metrics_file,omitempty" json:"metrics_file,omitempty"`

	// Path is the file the configuration was loaded from
	Path string `yaml:"-" toml:"-" json:"-"`
}

// Series returns the configured chip series, ING918xx when unset.
func (f *File) Series() (plan.ChipSeries, error) {
	if f.ChipSeries == "" {
		return plan.ING918xx, nil
	}
	return plan.ParseChipSeries(f.ChipSeries)
}

// Top returns the configured flash top address, 0 when unset.
func (f *File) Top() (uint32, error) {
	if f.FlashTop == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(f.FlashTop, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid flash_top %q: %w", f.FlashTop, err)
	}
	return uint32(v), nil
}

// Validate checks the values that can be checked without a device.
func (f *File) Validate() error {
	var errs []error

	if _, err := f.Series(); err != nil {
		errs = append(errs, err)
	}
	if _, err := f.Top(); err != nil {
		errs = append(errs, err)
	}
	if f.TargetMTU != 0 && (f.TargetMTU < 24 || f.TargetMTU > 512) {
		errs = append(errs, fmt.Errorf("target_mtu %d out of range (24-512)", f.TargetMTU))
	}
	if f.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative"))
	}
	for name, d := range map[string]Duration{
		"device.scan_timeout": f.Device.ScanTimeout,
		"chunk_delay":         f.ChunkDelay,
		"page_delay":          f.PageDelay,
		"timeout":             f.Timeout,
		"poll_timeout":        f.PollTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	switch strings.ToLower(f.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format: %s", f.Log.Format))
	}

	return errors.Join(errs...)
}

// Find searches for a configuration file in the standard locations. It returns
// an empty path and no error when no file exists; only an explicit path that
// cannot be found is an error.
func Find(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Check BLEFOTA_CONFIG environment variable
	if envPath := os.Getenv(EnvConfig); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// searchPaths lists candidate files in order of precedence.
func searchPaths() []string {
	names := []string{"config.yaml", "config.yml", "config.toml", "config.json"}

	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "blefota"))
	}
	home, err := os.UserHomeDir()
	if err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "blefota"))
	}

	var paths []string
	for _, dir := range dirs {
		for _, name := range names {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	if err == nil {
		paths = append(paths,
			filepath.Join(home, ".blefota.yaml"),
			filepath.Join(home, ".blefota.toml"),
			filepath.Join(home, ".blefota.json"),
		)
	}
	return paths
}

// Load reads and parses the configuration file at path.
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	f, err := parse(content, detectFormat(path, content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// LoadDefault finds and loads the configuration. Without a file it returns an
// empty File.
func LoadDefault(explicitPath string) (*File, error) {
	path, err := Find(explicitPath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return &File{}, nil
	}
	return Load(path)
}
