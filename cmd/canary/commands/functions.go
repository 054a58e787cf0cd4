package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/l3aro/canary/pkg/syntax"
)

// FunctionOutput is one row of the functions listing.
type FunctionOutput struct {
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// functionsCmd represents the functions command
var functionsCmd = &cobra.Command{
	Use:   "functions <file>",
	Short: "List the functions defined in a C file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if err := checkSource(path); err != nil {
			return err
		}

		tree, err := syntax.ParseFile(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer tree.Close()

		var out []FunctionOutput
		for _, fn := range tree.Functions() {
			out = append(out, FunctionOutput{Name: fn.Name, StartLine: fn.StartLine, EndLine: fn.EndLine})
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Function", "Lines"})
		table.SetBorder(false)
		table.SetCenterSeparator("")
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
		for _, fn := range out {
			table.Append([]string{fn.Name, fmt.Sprintf("%d-%d", fn.StartLine, fn.EndLine)})
		}
		table.SetFooter([]string{"Total", strconv.Itoa(len(out))})
		table.Render()
		return nil
	},
}

func init() {
	functionsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	RootCmd.AddCommand(functionsCmd)
}
