// Package commands provides the CLI commands for canary.
package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/l3aro/canary/internal/config"
	"github.com/l3aro/canary/internal/log"
	"github.com/l3aro/canary/internal/scanner"
	"github.com/l3aro/canary/pkg/cfa"
	"github.com/l3aro/canary/pkg/syntax"
)

var (
	configPath string
	logLevel   string
	logJSON    bool

	appConfig *config.Config
	logger    *log.DefaultLogger
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "canary",
	Short: "canary - control-flow coverage for C mutation testing",
	Long: `canary places location probes in C sources, models each function as a
control-flow automaton and replays recorded traces over it, telling which
tests reach which statements and conditions.

Commands:
  init        Create a configuration file interactively
  functions   List the functions defined in a C file
  cfa         Build the control-flow automaton of a function
  instrument  Insert location probes into C sources
  follow      Replay a recorded trace over a function
  coverage    Correlate every test of a trace with a function
  report      Show a saved coverage report
  record      Record the outcome of a mutant in a saved report
  doctor      Check configuration and artifacts
  version     Print version information

Use "canary [command] --help" for more information about a command.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command; cancelling ctx stops long running commands.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.canary/config.yaml then ./.canary/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	RootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write log entries as JSON lines")
}

// setup loads the configuration and builds the logger for a command run.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		appConfig, err = config.LoadFromFile(configPath)
	} else {
		appConfig, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		appConfig.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		appConfig.LogJSON = logJSON
	}

	if logger != nil {
		// post-run hooks are skipped when a command fails
		_ = logger.Close()
	}
	logger, err = appConfig.Logger(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	logger.Debug("Loaded configuration", "trace_file", appConfig.TraceFile, "workers", appConfig.Workers)
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logger == nil {
		return nil
	}
	return logger.Close()
}

// checkSource rejects files canary cannot parse.
func checkSource(path string) error {
	if scanner.Classify(filepath.Ext(path)) == "" {
		return fmt.Errorf("unsupported file type: %s (only .c and .h files supported)", path)
	}
	return nil
}

// function is a parsed function with its automaton. Close releases the tree.
type function struct {
	tree  *syntax.Tree
	graph *cfa.CFA
	dec   *cfa.Decorated
}

func (f *function) Close() {
	f.tree.Close()
}

// loadFunction parses path and builds the decorated automaton of name.
func loadFunction(ctx context.Context, path, name string) (*function, error) {
	if err := checkSource(path); err != nil {
		return nil, err
	}

	tree, err := syntax.ParseFile(ctx, path)
	if err != nil {
		return nil, err
	}

	g, err := cfa.BuildFunction(tree, name)
	if err != nil {
		tree.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	d := cfa.Localise(g)
	logger.Debug("Built automaton", "function", name, "nodes", g.Len(), "probes", len(d.Seeds()))
	return &function{tree: tree, graph: g, dec: d}, nil
}
