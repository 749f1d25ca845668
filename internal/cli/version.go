package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxscribe/internal/platform"
	"github.com/fmueller/voxscribe/internal/version"
	"github.com/fmueller/voxscribe/internal/whisper"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number and build details",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					version.Info
					Platform string `json:"platform"`
					Native   bool   `json:"native_engine"`
				}{Info: info, Platform: platform.Target(), Native: whisper.NativeAvailable()})
			}

			native := "not compiled in (build with -tags whisper_cpp)"
			if whisper.NativeAvailable() {
				native = "available"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "voxscribe v%s\n", info)
			fmt.Fprintf(out, "platform: %s\n", platform.Target())
			fmt.Fprintf(out, "native engine: %s\n", native)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print build details as JSON")
	return cmd
}
