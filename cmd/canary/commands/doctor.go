package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/l3aro/canary/internal/config"
	"github.com/l3aro/canary/internal/healthcheck"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on configuration and artifacts",
	Long: `Checks the configuration in use and the files canary works with: the
runtime header, probe manifest and state in output_dir, the trace file and
saved reports. Artifacts that do not exist yet are reported as missing; a
trace recorded against another instrumentation is an error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.EffectivePath()
		}

		result, err := healthcheck.Check(cmd.Context(), appConfig, path)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		displayDoctorResult(cmd.OutOrStdout(), result)

		if result.Failed() {
			return fmt.Errorf("health check failed: one or more checks reported errors")
		}
		return nil
	},
}

func displayDoctorResult(out io.Writer, result *healthcheck.HealthCheckResult) {
	if result.ConfigPath == "" {
		fmt.Fprintln(out, "Using config: built-in defaults")
	} else {
		fmt.Fprintf(out, "Using config: %s (%s)\n", result.ConfigPath, result.ConfigScope)
	}

	for _, c := range result.Checks {
		fmt.Fprintf(out, "\n%s:\n", c.Name)
		if c.Path != "" {
			fmt.Fprintf(out, "  Path: %s\n", c.Path)
		}
		fmt.Fprintf(out, "  Status: %s %s\n", formatStatusIcon(c.Status), c.Status)
		if c.Detail != "" {
			fmt.Fprintf(out, "  Detail: %s\n", c.Detail)
		}
		if c.Error != "" {
			fmt.Fprintf(out, "  Error: %s\n", c.Error)
		}
	}
}

func formatStatusIcon(status healthcheck.Status) string {
	switch status {
	case healthcheck.StatusReady:
		return "✓"
	case healthcheck.StatusMissing:
		return "◐"
	case healthcheck.StatusError:
		return "✗"
	default:
		return "?"
	}
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}
