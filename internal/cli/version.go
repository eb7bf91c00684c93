package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(info buildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ParseFormat(outputFormat)
			if err != nil {
				return err
			}
			return NewWriter(cmd.OutOrStdout(), format).Write(&info)
		},
	}
}

func (b *buildInfo) String() string {
	return fmt.Sprintf("blefota version %s (%s, %s)", b.Version, b.Commit, b.Date)
}
