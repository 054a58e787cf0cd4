package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = ""
)

// SetVersion records build information printed by the version command.
func SetVersion(v, built string) {
	version = v
	buildTime = built
	RootCmd.Version = v
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "canary version %s\n", version)
		if buildTime != "" {
			fmt.Fprintf(out, "built %s\n", buildTime)
		}
		fmt.Fprintf(out, "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	RootCmd.Version = version
	RootCmd.SetVersionTemplate("canary version {{.Version}}\n")
	RootCmd.AddCommand(versionCmd)
}
