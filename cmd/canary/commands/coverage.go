package commands

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/l3aro/canary/pkg/cfa"
	"github.com/l3aro/canary/pkg/coverage"
	"github.com/l3aro/canary/pkg/trace"
)

// coverageCmd represents the coverage command
var coverageCmd = &cobra.Command{
	Use:   "coverage <file> <function>",
	Short: "Correlate every test of a trace with a function",
	Long: `Replays the hits of every test in a trace over the automaton of a function
in an instrumented file, counting how often each node ran and which tests
reached it. Tests are replayed concurrently, bounded by workers from config.

With --targets only covered nodes are listed: the nodes worth mutating.
With --save the report is written to report_dir for later use. With --metrics
the counts are written in the Prometheus text format, ready for the node
exporter textfile collector.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, name := args[0], args[1]

		tracePath, _ := cmd.Flags().GetString("trace")
		if tracePath == "" {
			tracePath = appConfig.TraceFile
		}
		unit, _ := cmd.Flags().GetString("unit")
		allHits, _ := cmd.Flags().GetBool("all-hits")

		fn, err := loadFunction(cmd.Context(), path, name)
		if err != nil {
			return err
		}
		defer fn.Close()

		tr, err := trace.ParseFile(tracePath)
		if err != nil {
			return err
		}
		if !allHits {
			tr = tr.Restrict(fn.dec.Seeds())
		}

		report, err := coverage.Correlate(cmd.Context(), fn.dec, tr, coverage.Options{
			Function: name,
			File:     path,
			Unit:     unit,
			Workers:  appConfig.Workers,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("correlating %s: %w", name, err)
		}

		save, _ := cmd.Flags().GetBool("save")
		if save {
			out := filepath.Join(appConfig.ReportDir, report.FileName())
			if err := report.SaveFile(out); err != nil {
				return err
			}
			logger.Info("Saved coverage report", "path", out, "run_id", report.RunID)
		}

		if err := writeMetrics(cmd, report); err != nil {
			return err
		}
		return printReport(cmd, report)
	},
}

// writeMetrics exports the report for the node exporter when --metrics is set.
func writeMetrics(cmd *cobra.Command, report *coverage.Report) error {
	path, _ := cmd.Flags().GetString("metrics")
	if path == "" {
		return nil
	}
	if err := report.WriteMetrics(path); err != nil {
		return err
	}
	logger.Info("Wrote metrics", "path", path)
	return nil
}

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report <report-file>",
	Short: "Show a saved coverage report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := coverage.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := writeMetrics(cmd, report); err != nil {
			return err
		}
		return printReport(cmd, report)
	},
}

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record <report-file> <node> <killed|survived>",
	Short: "Record the outcome of a mutant in a saved report",
	Long: `Counts the outcome of one mutant placed on a node of a saved coverage
report and writes the report back, so the mutation score accumulates over a
mutation run.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		node, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid node %q: %w", args[1], err)
		}

		var killed bool
		switch args[2] {
		case "killed":
			killed = true
		case "survived":
		default:
			return fmt.Errorf("invalid outcome %q (use killed or survived)", args[2])
		}

		report, err := coverage.LoadFile(path)
		if err != nil {
			return err
		}
		if err := report.Record(cfa.NodeID(node), killed); err != nil {
			return err
		}
		if err := report.SaveFile(path); err != nil {
			return err
		}

		score, _ := report.Score()
		logger.Info("Recorded mutant", "node", node, "outcome", args[2], "score", fmt.Sprintf("%.1f%%", score*100))
		return nil
	},
}

// printReport writes the report as JSON or as a node table.
func printReport(cmd *cobra.Command, report *coverage.Report) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		return report.SaveJSON(cmd.OutOrStdout())
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Function: %s  File: %s  Run: %s\n", report.Function, report.File, report.RunID)

	nodes := report.Nodes
	targets, _ := cmd.Flags().GetBool("targets")
	if targets {
		nodes = report.Targets()
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Node", "Kind", "Line", "Location", "Hits", "Tests", "Text"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	for _, n := range nodes {
		table.Append([]string{
			strconv.Itoa(n.Node),
			n.Kind,
			strconv.Itoa(n.Line),
			n.Location,
			strconv.Itoa(n.Hits),
			strings.Join(n.Tests, ","),
			n.Text,
		})
	}
	table.SetFooter([]string{
		"", "", "", "",
		fmt.Sprintf("Covered %d/%d", report.CoveredCount(), len(report.Nodes)),
		fmt.Sprintf("Tests %d", len(report.Tests)),
		"",
	})
	table.Render()

	if score, ok := report.Score(); ok {
		fmt.Fprintf(out, "Mutation score: %.1f%%\n", score*100)
	}
	for _, t := range report.Desynced() {
		fmt.Fprintf(out, "Desynchronised: %s at position %d (location %s, node %d)\n",
			t.Test, t.Desync.Position, t.Desync.Location, t.Desync.Node)
	}
	return nil
}

func init() {
	coverageCmd.Flags().StringP("trace", "t", "", "Trace file (default: trace_file from config)")
	coverageCmd.Flags().String("unit", "", "Only count hits recorded inside this unit")
	coverageCmd.Flags().Bool("all-hits", false, "Keep hits of probes outside the function")
	coverageCmd.Flags().Bool("targets", false, "Only list covered nodes")
	coverageCmd.Flags().Bool("save", false, "Save the report to report_dir")
	coverageCmd.Flags().String("metrics", "", "Write Prometheus text metrics to this file")
	coverageCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	RootCmd.AddCommand(coverageCmd)

	RootCmd.AddCommand(recordCmd)

	reportCmd.Flags().Bool("targets", false, "Only list covered nodes")
	reportCmd.Flags().String("metrics", "", "Write Prometheus text metrics to this file")
	reportCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	RootCmd.AddCommand(reportCmd)
}
