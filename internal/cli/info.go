package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-blefota/updater"
)

var (
	infoRootKey string
	infoDevice  deviceFlags
)

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the FOTA state of a device",
		Long: `Connect to a device, run the FOTA bootstrap and report its versions, whether
it runs Secure FOTA and the negotiated page payload size. Nothing is flashed.

Examples:
  blefota info --name ING-FOTA
  blefota info --address C0:FF:EE:00:00:01 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			key, err := e.rootKey(infoRootKey)
			if err != nil {
				return err
			}
			conn, label, err := infoDevice.connect(e)
			if err != nil {
				return err
			}
			defer conn.Close()

			opts := append(e.updaterOptions(), updater.WithDeviceName(label))
			if key != nil {
				opts = append(opts, updater.WithRootKey(key))
			}
			con := newConsole(e.stderr, quiet)
			opts = append(opts, updater.WithStatusCallback(con.Status))

			up := updater.New(conn, opts...)
			ver, err := up.Prepare(cmd.Context())
			if err != nil {
				return err
			}

			return e.out.Write(&infoResult{
				Device:      label,
				Version:     versionOf(*ver),
				Secure:      up.Secure(),
				PayloadSize: up.PayloadSize(),
			})
		},
	}

	infoDevice.register(cmd)
	cmd.Flags().StringVar(&infoRootKey, "root-key", "", "Root key for Secure FOTA (PEM, hex or raw)")

	return cmd
}

type infoResult struct {
	Device      string        `json:"device" yaml:"device"`
	Version     versionResult `json:"version" yaml:"version"`
	Secure      bool          `json:"secure" yaml:"secure"`
	PayloadSize int           `json:"payload_size" yaml:"payload_size"`
}

func (r *infoResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Device:   %s\n", r.Device)
	fmt.Fprintf(&b, "Platform: %s\n", r.Version.Platform)
	fmt.Fprintf(&b, "App:      %s\n", r.Version.App)
	mode := "unsecure"
	if r.Secure {
		mode = "secure"
	}
	fmt.Fprintf(&b, "FOTA:     %s\n", mode)
	fmt.Fprintf(&b, "Payload:  %d bytes per write", r.PayloadSize)
	return b.String()
}
