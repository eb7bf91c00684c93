package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-blefota/plan"
)

var (
	planDeviceVersion string
	planFlash         flashFlags
	planSource        sourceFlags
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what an update would flash, without a device",
		Long: `Compute the update plan for a device version: which binaries are selected,
where each one is written and the metadata record committed at the end.

Examples:
  blefota plan --package release-42.zip --device-version 1.0.0/1.0.0
  blefota plan --app app.hex --device-version 1.0.0 --chip ing916xx -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}

			dev, err := parseProductVersion(planDeviceVersion)
			if err != nil {
				return fmt.Errorf("--device-version: %w", err)
			}
			pkg, err := planSource.load(cmd, e)
			if err != nil {
				return err
			}
			series, top, err := planFlash.resolve(e)
			if err != nil {
				return err
			}

			p := plan.FromPackage(pkg, dev)
			res := &planResult{
				Device:  versionOf(dev),
				Package: versionOf(pkg.Version),
				Chip:    series.String(),
			}
			if p.UpToDate() {
				return e.out.Write(res)
			}
			if err := plan.MakeFlashProcedure(p, series, top); err != nil {
				return err
			}

			res.Items, res.Bytes = itemsOf(p)
			res.Pages = p.Pages()
			res.PageSize = p.PageSize
			res.ManualReboot = p.ManualReboot
			res.Metadata = &itemResult{
				Name:      p.MetaData.Name,
				Size:      len(p.MetaData.Data),
				WriteAddr: fmt.Sprintf("0x%08X", p.MetaData.WriteAddr),
				LoadAddr:  fmt.Sprintf("0x%08X", p.MetaData.LoadAddr),
			}
			res.MetadataHex = hex.EncodeToString(p.MetaData.Data)
			return e.out.Write(res)
		},
	}

	cmd.Flags().StringVar(&planDeviceVersion, "device-version", "", "Version on the device, platform/app (e.g. 1.0.0/1.0.3)")
	_ = cmd.MarkFlagRequired("device-version")
	planFlash.register(cmd)
	planSource.register(cmd, false)

	return cmd
}

type planResult struct {
	Device       versionResult `json:"device" yaml:"device"`
	Package      versionResult `json:"package" yaml:"package"`
	Chip         string        `json:"chip" yaml:"chip"`
	Items        []itemResult  `json:"items" yaml:"items"`
	Bytes        int           `json:"bytes" yaml:"bytes"`
	Pages        int           `json:"pages" yaml:"pages"`
	PageSize     int           `json:"page_size" yaml:"page_size"`
	ManualReboot bool          `json:"manual_reboot" yaml:"manual_reboot"`
	Metadata     *itemResult   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	MetadataHex  string        `json:"metadata_hex,omitempty" yaml:"metadata_hex,omitempty"`
}

func (r *planResult) String() string {
	if len(r.Items) == 0 {
		return fmt.Sprintf("device %s/%s is up to date with %s/%s",
			r.Device.Platform, r.Device.App, r.Package.Platform, r.Package.App)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Update %s/%s -> %s/%s on %s\n",
		r.Device.Platform, r.Device.App, r.Package.Platform, r.Package.App, r.Chip)
	for _, it := range r.Items {
		fmt.Fprintf(&b, "  %-24s %8d bytes  write %s  load %s\n", it.Name, it.Size, it.WriteAddr, it.LoadAddr)
	}
	fmt.Fprintf(&b, "  %d bytes in %d pages of %d\n", r.Bytes, r.Pages, r.PageSize)
	if r.Metadata != nil {
		fmt.Fprintf(&b, "Metadata: %d bytes at %s\n  %s\n", r.Metadata.Size, r.Metadata.WriteAddr, r.MetadataHex)
	}
	reboot := "device reboots itself"
	if r.ManualReboot {
		reboot = "REBOOT sent after metadata"
	}
	b.WriteString(reboot)
	return b.String()
}
