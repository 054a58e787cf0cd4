package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/l3aro/canary/pkg/cfa"
	"github.com/l3aro/canary/pkg/coverage"
	"github.com/l3aro/canary/pkg/trace"
)

// followCmd represents the follow command
var followCmd = &cobra.Command{
	Use:   "follow <file> <function>",
	Short: "Replay a recorded trace over a function",
	Long: `Replays the probe hits of one test over the automaton of a function in an
instrumented file and prints the nodes the test executed, in order.

Hits of probes outside the function are dropped first unless --all-hits is
given. A trace that stops matching the automaton is reported with the path
matched so far and a non-zero exit status.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, name := args[0], args[1]

		tracePath, _ := cmd.Flags().GetString("trace")
		if tracePath == "" {
			tracePath = appConfig.TraceFile
		}
		unit, _ := cmd.Flags().GetString("unit")
		test, _ := cmd.Flags().GetString("test")
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
		if test == "" {
			if tests := tr.Tests(); len(tests) > 1 {
				return fmt.Errorf("trace %s holds %d tests; pick one with --test", tracePath, len(tests))
			}
		} else {
			tr = tr.ForTest(test)
			if len(tr) == 0 {
				return fmt.Errorf("test %q not found in %s", test, tracePath)
			}
		}
		if !allHits {
			tr = tr.Restrict(fn.dec.Seeds())
		}

		nodes, err := cfa.FollowPath(fn.dec, unit, tr)
		var desync *cfa.DesyncError
		if err != nil && !errors.As(err, &desync) {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			result := coverage.TestPath{Test: test, Path: make([]int, len(nodes))}
			for i, id := range nodes {
				result.Path[i] = int(id)
			}
			if desync != nil {
				result.Desync = &coverage.Desync{Position: desync.Position, Location: desync.Location, Node: int(desync.Node)}
			}
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		} else {
			printPath(cmd, fn, nodes)
		}

		if desync != nil {
			logger.Warn("Trace desynchronised", "function", name, "position", desync.Position, "location", desync.Location)
			return desync
		}
		return nil
	},
}

func printPath(cmd *cobra.Command, fn *function, nodes []cfa.NodeID) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Step", "Node", "Kind", "Line", "Location", "Text"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	for i, id := range nodes {
		n := fn.graph.Node(id)
		table.Append([]string{
			strconv.Itoa(i),
			strconv.Itoa(int(id)),
			n.Kind.String(),
			strconv.Itoa(n.Syntax.Line()),
			fn.dec.Location(id),
			cfa.Summary(n.Text(), 50),
		})
	}
	table.Render()
}

func init() {
	followCmd.Flags().StringP("trace", "t", "", "Trace file (default: trace_file from config)")
	followCmd.Flags().String("unit", "", "Only follow hits recorded inside this unit")
	followCmd.Flags().String("test", "", "Test whose hits are followed")
	followCmd.Flags().Bool("all-hits", false, "Keep hits of probes outside the function")
	followCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	RootCmd.AddCommand(followCmd)
}
