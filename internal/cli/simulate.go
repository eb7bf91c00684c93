package cli

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-blefota/secure"
	"github.com/moffa90/go-blefota/transport"
	"github.com/moffa90/go-blefota/transport/sim"
	"github.com/moffa90/go-blefota/updater"
)

var (
	simSecure        bool
	simFailPages     int
	simMTU           int
	simLatency       time.Duration
	simDeviceVersion string
	simFast          bool
	simRootKey       string
	simFlash         flashFlags
	simSource        sourceFlags
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an update against a simulated device",
		Long: `Run a complete update against an in-memory device and check that what the
device received matches the update. Useful to rehearse a package, a flash
layout or the Secure FOTA handshake without hardware.

Examples:
  blefota simulate --package release-42.zip --device-version 1.0.0/1.0.0
  blefota simulate --app app.hex --secure --fail-pages 2 --fast`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}

			dev, err := parseProductVersion(simDeviceVersion)
			if err != nil {
				return fmt.Errorf("--device-version: %w", err)
			}
			pkg, err := simSource.load(cmd, e)
			if err != nil {
				return err
			}
			series, top, err := simFlash.resolve(e)
			if err != nil {
				return err
			}

			devOpts := []sim.Option{
				sim.WithVersion(dev),
				sim.WithFailPageEnds(simFailPages),
				sim.WithLatency(simLatency),
			}
			if simMTU > 0 {
				devOpts = append(devOpts, sim.WithMTU(simMTU))
			}

			opts := append(e.updaterOptions(), updater.WithDeviceName("simulator"))
			if simSecure {
				key, err := e.rootKey(simRootKey)
				if err != nil {
					return err
				}
				if key == nil {
					e.log.Debug("no root key configured, generating one")
					if key, err = secure.P256().GenerateKey(); err != nil {
						return err
					}
				}
				devOpts = append(devOpts, sim.WithSecure(key.PublicBytes()))
				opts = append(opts, updater.WithRootKey(key))
			}
			if simFast {
				opts = append(opts, updater.WithChunkDelay(0), updater.WithPageDelay(0))
			}

			d := sim.New(devOpts...)
			res, err := runUpdate(cmd.Context(), e, transport.NewLink(d), pkg, updateRun{
				device:   "simulator",
				series:   series,
				flashTop: top,
				yes:      true,
				options:  opts,
			})
			if err != nil {
				return err
			}

			if res.plan != nil {
				for _, item := range res.plan.Items {
					got := d.Image(item.WriteAddr, len(item.Data))
					if !bytes.Equal(got, item.Data) {
						return fmt.Errorf("simulated device holds a different %s at 0x%08X", item.Name, item.WriteAddr)
					}
				}
				if !bytes.Equal(d.Metadata(), res.plan.MetaData.Data) {
					return fmt.Errorf("simulated device holds different metadata")
				}
				if res.plan.ManualReboot && !d.Rebooted() {
					return fmt.Errorf("simulated device was not rebooted")
				}
				res.Result += ", verified"
			}
			return e.out.Write(res)
		},
	}

	cmd.Flags().BoolVar(&simSecure, "secure", false, "Simulate a Secure FOTA device")
	cmd.Flags().IntVar(&simFailPages, "fail-pages", 0, "Number of PAGE_END commands the device rejects")
	cmd.Flags().IntVar(&simMTU, "mtu", 0, "Largest MTU the device accepts (default 512)")
	cmd.Flags().DurationVar(&simLatency, "latency", 0, "Delay of every GATT completion")
	cmd.Flags().StringVar(&simDeviceVersion, "device-version", "0.0.0/0.0.0", "Version the device reports, platform/app")
	cmd.Flags().BoolVar(&simFast, "fast", false, "Skip the chunk and page delays")
	cmd.Flags().StringVar(&simRootKey, "root-key", "", "Root key (generated when unset)")
	simFlash.register(cmd)
	simSource.register(cmd, false)

	return cmd
}
