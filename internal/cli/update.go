package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-blefota/bundle"
	"github.com/moffa90/go-blefota/metrics"
	"github.com/moffa90/go-blefota/plan"
	"github.com/moffa90/go-blefota/protocol"
	"github.com/moffa90/go-blefota/transport"
	"github.com/moffa90/go-blefota/updater"
)

// errDeclined is returned when the user answers no to the confirmation.
var errDeclined = errors.New("update cancelled")

var (
	updateYes     bool
	updateRootKey string
	updateDevice  deviceFlags
	updateFlash   flashFlags
	updateSource  sourceFlags
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a device over BLE",
		Long: `Connect to a device, compare its versions with the update and flash what is
needed: the platform when it differs, the app when it is newer (or when the
platform changes), and every extra binary.

Examples:
  blefota update --name ING-FOTA --package release-42.zip
  blefota update --address C0:FF:EE:00:00:01 --app app.hex
  blefota update --name ING-FOTA --app app.bin --load-addr 0x24000
  blefota update --name ING-FOTA --online https://fota.example.com/fw`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}

			pkg, err := updateSource.load(cmd, e)
			if err != nil {
				return err
			}
			series, top, err := updateFlash.resolve(e)
			if err != nil {
				return err
			}
			key, err := e.rootKey(updateRootKey)
			if err != nil {
				return err
			}

			conn, label, err := updateDevice.connect(e)
			if err != nil {
				return err
			}

			opts := e.updaterOptions()
			opts = append(opts, updater.WithDeviceName(label))
			if key != nil {
				opts = append(opts, updater.WithRootKey(key))
			}

			res, err := runUpdate(cmd.Context(), e, conn, pkg, updateRun{
				device:   label,
				series:   series,
				flashTop: top,
				yes:      updateYes,
				options:  opts,
			})
			if err != nil {
				return err
			}
			return e.out.Write(res)
		},
	}

	updateDevice.register(cmd)
	updateFlash.register(cmd)
	updateSource.register(cmd, true)
	cmd.Flags().StringVar(&updateRootKey, "root-key", "", "Root key for Secure FOTA (PEM, hex or raw)")
	cmd.Flags().BoolVarP(&updateYes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// updateRun parameterizes runUpdate.
type updateRun struct {
	device   string
	series   plan.ChipSeries
	flashTop uint32
	yes      bool
	options  []updater.Option
}

// itemResult describes one flashed item.
type itemResult struct {
	Name      string `json:"name" yaml:"name"`
	Size      int    `json:"size" yaml:"size"`
	WriteAddr string `json:"write_addr" yaml:"write_addr"`
	LoadAddr  string `json:"load_addr" yaml:"load_addr"`
}

// updateResult is the outcome of an update.
type updateResult struct {
	RunID   string       `json:"run_id" yaml:"run_id"`
	Device  string       `json:"device" yaml:"device"`
	Secure  bool         `json:"secure" yaml:"secure"`
	Before  string       `json:"before" yaml:"before"`
	Package string       `json:"package" yaml:"package"`
	Result  string       `json:"result" yaml:"result"`
	Items   []itemResult `json:"items,omitempty" yaml:"items,omitempty"`
	Bytes   int          `json:"bytes" yaml:"bytes"`
	Elapsed string       `json:"elapsed" yaml:"elapsed"`

	plan *plan.Plan
}

func (r *updateResult) String() string {
	var b strings.Builder
	mode := "unsecure"
	if r.Secure {
		mode = "secure"
	}
	fmt.Fprintf(&b, "%s (%s FOTA): %s\n", r.Device, mode, r.Result)
	fmt.Fprintf(&b, "  device:  %s\n", r.Before)
	fmt.Fprintf(&b, "  package: %s\n", r.Package)
	for _, it := range r.Items {
		fmt.Fprintf(&b, "  %-16s %8d bytes  write %s  load %s\n", it.Name, it.Size, it.WriteAddr, it.LoadAddr)
	}
	fmt.Fprintf(&b, "  %d bytes in %s", r.Bytes, r.Elapsed)
	return b.String()
}

func itemsOf(p *plan.Plan) ([]itemResult, int) {
	items := make([]itemResult, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, itemResult{
			Name:      it.Name,
			Size:      len(it.Data),
			WriteAddr: fmt.Sprintf("0x%08X", it.WriteAddr),
			LoadAddr:  fmt.Sprintf("0x%08X", it.LoadAddr),
		})
	}
	return items, p.TotalBytes()
}

// runUpdate prepares the device, plans the update against its version, asks
// for confirmation and burns. conn is always closed on return.
func runUpdate(ctx context.Context, e *env, conn transport.Conn, pkg *bundle.Package, run updateRun) (*updateResult, error) {
	start := time.Now()
	m := metrics.New()
	defer e.writeMetrics(m)

	con := newConsole(e.stderr, quiet)
	opts := append([]updater.Option{}, run.options...)
	opts = append(opts,
		updater.WithStatusCallback(con.Status),
		updater.WithProgressCallback(con.Progress),
		updater.WithMetrics(m),
	)
	up := updater.New(conn, opts...)
	e.log.WithField("run_id", up.RunID()).Debug("updater created")

	ver, err := up.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	res := &updateResult{
		RunID:   up.RunID(),
		Device:  run.device,
		Secure:  up.Secure(),
		Before:  ver.String(),
		Package: pkg.Version.String(),
	}

	p := plan.FromPackage(pkg, *ver)
	if p.UpToDate() {
		_ = conn.Close()
		res.Result = "up to date"
		res.Elapsed = time.Since(start).Round(time.Millisecond).String()
		return res, nil
	}

	if err := plan.MakeFlashProcedure(p, run.series, run.flashTop); err != nil {
		_ = conn.Close()
		return nil, err
	}
	res.Items, res.Bytes = itemsOf(p)
	res.plan = p

	if !run.yes {
		if !isInteractive(e.stdin) {
			_ = conn.Close()
			return nil, fmt.Errorf("confirmation required: run from a terminal or pass --yes")
		}
		if !confirm(e.stdin, e.stderr, confirmQuestion(res, p)) {
			_ = conn.Close()
			return nil, errDeclined
		}
	}

	err = up.Update(ctx, p)
	con.Done()
	res.Elapsed = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		return nil, err
	}

	res.Result = "updated"
	if p.ManualReboot {
		res.Result = "updated, rebooting"
	}
	return res, nil
}

func confirmQuestion(res *updateResult, p *plan.Plan) string {
	var parts []string
	if p.Platform {
		parts = append(parts, "platform")
	}
	if p.App {
		parts = append(parts, "app")
	}
	if extra := len(p.Items) - len(parts); extra > 0 {
		parts = append(parts, fmt.Sprintf("%d extra binaries", extra))
	}

	mode := "Unsecure"
	if res.Secure {
		mode = "Secure"
	}
	return fmt.Sprintf("%s FOTA: flash %s (%d bytes) to %s, currently %s?",
		mode, strings.Join(parts, ", "), res.Bytes, res.Device, res.Before)
}

// writeMetrics dumps the run metrics when a metrics file is configured.
func (e *env) writeMetrics(m *metrics.Metrics) {
	if e.cfg.MetricsFile == "" {
		return
	}
	if err := m.WriteToTextfile(expandHomePath(e.cfg.MetricsFile)); err != nil {
		e.log.WithError(err).Error("failed to write metrics")
	}
}

// versionResult is the device version as reported by info.
type versionResult struct {
	Platform string `json:"platform" yaml:"platform"`
	App      string `json:"app" yaml:"app"`
}

func versionOf(v protocol.ProductVersion) versionResult {
	return versionResult{Platform: v.Platform.String(), App: v.App.String()}
}
