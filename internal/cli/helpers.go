package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moffa90/go-blefota/bundle"
	"github.com/moffa90/go-blefota/config"
	"github.com/moffa90/go-blefota/image"
	"github.com/moffa90/go-blefota/logging"
	"github.com/moffa90/go-blefota/plan"
	"github.com/moffa90/go-blefota/protocol"
	"github.com/moffa90/go-blefota/secure"
	"github.com/moffa90/go-blefota/transport/ble"
	"github.com/moffa90/go-blefota/updater"
)

// env bundles what every command needs: configuration, logger and I/O.
type env struct {
	cfg    *config.File
	log    *logrus.Logger
	out    *Writer
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// newEnv loads the configuration and builds the logger from the global flags.
func newEnv(cmd *cobra.Command) (*env, error) {
	format, err := ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadDefault(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Log.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	case level == "":
		level = "warn"
	}
	log, err := logging.New(level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		log.WithField("path", cfg.Path).Debug("config loaded")
	}

	return &env{
		cfg:    cfg,
		log:    log,
		out:    NewWriter(cmd.OutOrStdout(), format),
		stdin:  cmd.InOrStdin(),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}, nil
}

// logger adapts the env logger for the updater.
func (e *env) logger() updater.Logger {
	return logging.NewAdapter(logrus.NewEntry(e.log))
}

// updaterOptions converts the configuration into updater options. Unset
// values keep the updater defaults.
func (e *env) updaterOptions() []updater.Option {
	cfg := e.cfg
	opts := []updater.Option{updater.WithLogger(e.logger())}

	if cfg.TargetMTU != 0 {
		opts = append(opts, updater.WithTargetMTU(cfg.TargetMTU))
	}
	if cfg.ChunkDelay != 0 {
		opts = append(opts, updater.WithChunkDelay(cfg.ChunkDelay.Std()))
	}
	if cfg.PageDelay != 0 {
		opts = append(opts, updater.WithPageDelay(cfg.PageDelay.Std()))
	}
	if cfg.Retries != 0 {
		opts = append(opts, updater.WithRetries(cfg.Retries))
	}
	if cfg.Timeout != 0 {
		opts = append(opts, updater.WithTimeout(cfg.Timeout.Std()))
	}
	if cfg.PollTimeout != 0 {
		opts = append(opts, updater.WithPollTimeout(cfg.PollTimeout.Std()))
	}
	return opts
}

// rootKey loads the root key from path, falling back to the configured key.
// It returns nil when neither is set.
func (e *env) rootKey(path string) (secure.PrivateKey, error) {
	if path == "" {
		path = e.cfg.RootKey
	}
	if path == "" {
		return nil, nil
	}
	key, err := secure.LoadPrivateKeyFile(expandHomePath(path))
	if err != nil {
		return nil, fmt.Errorf("root key: %w", err)
	}
	return key, nil
}

// status prints a status line unless quiet.
func (e *env) status(format string, args ...interface{}) {
	if quiet {
		return
	}
	_, _ = fmt.Fprintf(e.stderr, format+"\n", args...)
}

// deviceFlags select a BLE device.
type deviceFlags struct {
	address     string
	name        string
	scanTimeout time.Duration
}

func (f *deviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.address, "address", "", "Device address (MAC, or UUID on macOS)")
	cmd.Flags().StringVar(&f.name, "name", "", "Advertised device name")
	cmd.Flags().DurationVar(&f.scanTimeout, "scan-timeout", 0, "Scan timeout (default 10s)")
}

// connect builds a BLE connection from the flags and configuration.
func (f *deviceFlags) connect(e *env) (*ble.Conn, string, error) {
	cfg := ble.Config{
		Address:     f.address,
		Name:        f.name,
		ScanTimeout: f.scanTimeout,
	}
	if cfg.Address == "" && cfg.Name == "" {
		cfg.Address = e.cfg.Device.Address
		cfg.Name = e.cfg.Device.Name
	}
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = e.cfg.Device.ScanTimeout.Std()
	}
	if cfg.Address == "" && cfg.Name == "" {
		return nil, "", fmt.Errorf("no device selected: use --address, --name or set device in the config file")
	}

	label := cfg.Address
	if label == "" {
		label = cfg.Name
	}
	return ble.New(cfg), label, nil
}

// flashFlags select the flash layout.
type flashFlags struct {
	chip     string
	flashTop string
}

func (f *flashFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.chip, "chip", "", "Chip series: ing918xx, ing916xx (default ing918xx)")
	cmd.Flags().StringVar(&f.flashTop, "flash-top", "", "Top of the download area (default: end of flash)")
}

// resolve returns the chip series and flash top, flags taking precedence over
// the configuration.
func (f *flashFlags) resolve(e *env) (plan.ChipSeries, uint32, error) {
	cfg := *e.cfg
	if f.chip != "" {
		cfg.ChipSeries = f.chip
	}
	if f.flashTop != "" {
		cfg.FlashTop = f.flashTop
	}

	series, err := cfg.Series()
	if err != nil {
		return 0, 0, err
	}
	top, err := cfg.Top()
	if err != nil {
		return 0, 0, err
	}
	return series, top, nil
}

// sourceFlags select where the update comes from.
type sourceFlags struct {
	pkgPath  string
	appPath  string
	loadAddr string
	server   string
	cacheDir string
}

func (f *sourceFlags) register(cmd *cobra.Command, online bool) {
	cmd.Flags().StringVarP(&f.pkgPath, "package", "p", "", "Update package (zip with manifest.json)")
	cmd.Flags().StringVar(&f.appPath, "app", "", "Application image (.bin or Intel HEX)")
	cmd.Flags().StringVar(&f.loadAddr, "load-addr", "", "Load address of the application image (required for .bin)")
	if online {
		cmd.Flags().StringVar(&f.server, "online", "", "Download the latest package from this update server")
		cmd.Flags().StringVar(&f.cacheDir, "cache-dir", "", "Directory for downloaded packages")
	}
}

// load resolves the flags into an update package.
func (f *sourceFlags) load(cmd *cobra.Command, e *env) (*bundle.Package, error) {
	if f.pkgPath == "" && f.appPath == "" && f.server == "" && cmd.Flags().Lookup("online") != nil {
		f.server = e.cfg.Server
	}

	set := 0
	for _, v := range []string{f.pkgPath, f.appPath, f.server} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, fmt.Errorf("nothing to flash: use --package or --app")
	case set > 1:
		return nil, fmt.Errorf("--package, --app and --online are mutually exclusive")
	}

	switch {
	case f.pkgPath != "":
		return bundle.Open(expandHomePath(f.pkgPath))

	case f.appPath != "":
		return f.loadApp()

	default:
		dir := f.cacheDir
		if dir == "" {
			cache, err := os.UserCacheDir()
			if err != nil {
				return nil, fmt.Errorf("failed to determine cache directory: %w", err)
			}
			dir = filepath.Join(cache, "blefota")
		}
		e.status("downloading from %s ...", f.server)
		pkg, path, err := bundle.Download(cmd.Context(), f.server, expandHomePath(dir))
		if err != nil {
			return nil, err
		}
		e.status("downloaded %s", path)
		return pkg, nil
	}
}

func (f *sourceFlags) loadApp() (*bundle.Package, error) {
	path := expandHomePath(f.appPath)
	img, err := image.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.appPath, err)
	}

	addr := img.Base
	switch {
	case f.loadAddr != "":
		addr, err = parseAddress(f.loadAddr)
		if err != nil {
			return nil, fmt.Errorf("--load-addr: %w", err)
		}
	case img.Format == image.FormatBinary:
		return nil, fmt.Errorf("--load-addr is required for raw binary images")
	}

	pkg := bundle.AppOnly(addr, img.Data, filepath.Base(path), "")
	pkg.Entry = addr
	if img.HasEntry {
		pkg.Entry = img.Entry
	}
	return pkg, nil
}

// isInteractive reports whether r is a terminal. Readers other than files
// (tests, pipes set up by callers) count as interactive.
func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

// isTerminalWriter reports whether w is a terminal.
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// parseAddress parses a hex (0x prefixed) or decimal 32-bit address.
func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint32(v), nil
}

// parseProductVersion parses "platform/app", e.g. "1.2.0/1.0.3". A single
// version applies to the app with a zero platform. Missing components of
// either version are zero.
func parseProductVersion(s string) (protocol.ProductVersion, error) {
	var pv protocol.ProductVersion
	platform, app, found := strings.Cut(s, "/")
	if !found {
		v, err := protocol.ParseVersionString(s)
		pv.App = v
		return pv, err
	}

	var err error
	if pv.Platform, err = protocol.ParseVersionString(platform); err != nil {
		return pv, err
	}
	pv.App, err = protocol.ParseVersionString(app)
	return pv, err
}

// expandHomePath expands ~ to the user's home directory.
func expandHomePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
