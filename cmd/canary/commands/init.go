package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/l3aro/canary/internal/config"
	"github.com/l3aro/canary/internal/log"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize canary configuration interactively",
	Long: `Guides you through setting up canary step by step and saves the answers
to the global (~/.canary/config.yaml) or project (./.canary/config.yaml)
config file.`,
	// An existing config may be broken; init must still run to replace it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = log.New(log.LoggerConfig{Level: log.InfoLevel, Stderr: cmd.ErrOrStderr()})
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd)
	},
}

// initAnswers holds form values before they are validated.
type initAnswers struct {
	TraceFile  string
	OutputDir  string
	ReportDir  string
	HeaderName string
	Workers    string
	LogLevel   string
	Scope      string
}

func defaultAnswers() *initAnswers {
	cfg := config.DefaultConfig()
	return &initAnswers{
		TraceFile:  cfg.TraceFile,
		OutputDir:  cfg.OutputDir,
		ReportDir:  cfg.ReportDir,
		HeaderName: cfg.HeaderName,
		Workers:    strconv.Itoa(cfg.Workers),
		LogLevel:   cfg.LogLevel,
		Scope:      "project",
	}
}

// toConfig validates the answers and turns them into a config.
func (a *initAnswers) toConfig() (*config.Config, error) {
	workers, err := strconv.Atoi(a.Workers)
	if err != nil {
		return nil, fmt.Errorf("workers must be a number: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.TraceFile = a.TraceFile
	cfg.OutputDir = a.OutputDir
	cfg.ReportDir = a.ReportDir
	cfg.HeaderName = a.HeaderName
	cfg.Workers = workers
	cfg.LogLevel = a.LogLevel

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// configPathFor maps a save scope to the config file path.
func configPathFor(scope string) string {
	if scope != "global" {
		return config.ProjectConfigFilePath()
	}
	return config.GlobalConfigFilePath()
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

func runInit(cmd *cobra.Command) error {
	answers := defaultAnswers()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trace file").
				Description("Where instrumented programs append probe hits").
				Value(&answers.TraceFile),
			huh.NewInput().
				Title("Output directory").
				Description("Receives instrumented sources and the runtime header").
				Value(&answers.OutputDir),
			huh.NewInput().
				Title("Report directory").
				Description("Receives saved coverage reports").
				Value(&answers.ReportDir),
			huh.NewInput().
				Title("Runtime header name").
				Value(&answers.HeaderName),
			huh.NewInput().
				Title("Workers").
				Description("Tests replayed at once").
				Validate(positiveInt).
				Value(&answers.Workers),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&answers.LogLevel),
			huh.NewSelect[string]().
				Title("Save Configuration").
				Description("Where to save the configuration file?").
				Options(
					huh.NewOption("Project (./.canary/config.yaml)", "project"),
					huh.NewOption("Global (~/.canary/config.yaml)", "global"),
				).
				Value(&answers.Scope),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	cfg, err := answers.toConfig()
	if err != nil {
		return err
	}
	configPath := configPathFor(answers.Scope)

	if _, err := os.Stat(configPath); err == nil {
		var overwrite bool
		form = huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Config file exists").
					Description(fmt.Sprintf("Overwrite existing config at %s?", configPath)).
					Affirmative("Overwrite").
					Negative("Cancel").
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
		if !overwrite {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n=== Configuration ===")
	fmt.Fprintf(out, "Config path: %s\n", configPath)
	fmt.Fprintf(out, "Trace file: %s\n", cfg.TraceFile)
	fmt.Fprintf(out, "Output dir: %s\n", cfg.OutputDir)
	fmt.Fprintf(out, "Report dir: %s\n", cfg.ReportDir)
	fmt.Fprintf(out, "Header: %s\n", cfg.HeaderName)
	fmt.Fprintf(out, "Workers: %d\n", cfg.Workers)
	fmt.Fprintf(out, "Log level: %s\n", cfg.LogLevel)
	logger.Info("Configuration saved", "path", configPath)
	return nil
}

func init() {
	RootCmd.AddCommand(initCmd)
}
