package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/l3aro/canary/internal/scanner"
	"github.com/l3aro/canary/internal/watch"
	"github.com/l3aro/canary/pkg/dirty"
	"github.com/l3aro/canary/pkg/instrument"
)

// instrumentCmd represents the instrument command
var instrumentCmd = &cobra.Command{
	Use:   "instrument [path...]",
	Short: "Insert location probes into C sources",
	Long: `Instruments C files, or every .c file under the given directories, and
writes the results to the output directory with the same relative layout.
The runtime header is written next to every instrumented file and a probe
manifest (probes.json) to the output root.

Probe ids are numbered across all files of a run, so one trace can cover a
whole program. Sources whose content, options and first probe id match the
previous run are not instrumented again unless --force is given. With --watch
the command keeps running and repeats the run whenever a source changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}

		var o instrumentOptions
		o.outDir, _ = cmd.Flags().GetString("out")
		if o.outDir == "" {
			o.outDir = appConfig.OutputDir
		}
		o.functions, _ = cmd.Flags().GetStringSlice("functions")
		o.firstID, _ = cmd.Flags().GetInt("first-id")
		if o.firstID < 0 {
			return fmt.Errorf("first-id must be non-negative")
		}
		o.force, _ = cmd.Flags().GetBool("force")
		o.json, _ = cmd.Flags().GetBool("json")

		var err error
		o.absOut, err = filepath.Abs(o.outDir)
		if err != nil {
			return fmt.Errorf("getting absolute path: %w", err)
		}

		if err := runInstrument(cmd, args, o); err != nil {
			return err
		}

		watching, _ := cmd.Flags().GetBool("watch")
		if !watching {
			return nil
		}
		roots, err := watchRoots(args)
		if err != nil {
			return err
		}
		o.force = false
		sc := scanner.New(scanner.DefaultOptions())
		return watch.Run(cmd.Context(), roots, watch.Options{
			Match: func(path string) bool {
				return scanner.Classify(filepath.Ext(path)) == scanner.KindSource && !within(o.absOut, path)
			},
			Skip: func(dir string) bool {
				return within(o.absOut, dir) || sc.SkipsDir(filepath.Base(dir))
			},
			Logger: logger,
		}, func(context.Context) error {
			return runInstrument(cmd, args, o)
		})
	},
}

type instrumentOptions struct {
	outDir    string
	absOut    string
	functions []string
	firstID   int
	force     bool
	json      bool
}

// runInstrument performs one instrumentation run over args.
func runInstrument(cmd *cobra.Command, args []string, o instrumentOptions) error {
	files, err := collectSources(cmd, args, o.absOut)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Warn("No C sources found", "paths", strings.Join(args, ","))
		return nil
	}

	state, err := dirty.Load(filepath.Join(o.absOut, dirty.DefaultStateFile))
	if err != nil {
		return err
	}
	fingerprint := appConfig.HeaderName + "|" + strings.Join(o.functions, ",")

	var probes []instrument.Probe
	var paths []string
	headerDirs := make(map[string]bool)
	nextID := o.firstID
	unchanged := 0
	for _, f := range files {
		out := filepath.Join(o.absOut, filepath.FromSlash(f.Path))
		paths = append(paths, f.Path)
		headerDirs[filepath.Dir(out)] = true

		hash, err := dirty.HashFile(f.FullPath)
		if err != nil {
			return err
		}
		if e, ok := state.Clean(f.Path, hash, fingerprint, nextID); ok && !o.force && exists(out) {
			probes = append(probes, e.Probes...)
			nextID = e.NextID
			unchanged++
			logger.Debug("Source unchanged", "file", f.Path)
			continue
		}

		res, err := instrument.FileAt(cmd.Context(), f.FullPath, out, instrument.Options{
			HeaderName: appConfig.HeaderName,
			Functions:  o.functions,
			FirstID:    nextID,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		for i := range res.Probes {
			res.Probes[i].File = f.Path
		}
		probes = append(probes, res.Probes...)
		state.Update(dirty.Entry{
			Path:    f.Path,
			Hash:    hash,
			Options: fingerprint,
			FirstID: nextID,
			NextID:  res.NextID,
			Probes:  res.Probes,
		})
		nextID = res.NextID
		logger.Debug("Instrumented file", "file", f.Path, "probes", len(res.Probes))
	}

	state.Prune(paths)
	if err := state.Save(); err != nil {
		return err
	}

	for dir := range headerDirs {
		if _, err := instrument.WriteHeader(dir, appConfig.HeaderName); err != nil {
			return err
		}
	}
	if err := instrument.WriteManifest(filepath.Join(o.absOut, instrument.ManifestFileName), probes); err != nil {
		return err
	}
	logger.Info("Instrumentation complete", "files", len(files), "unchanged", unchanged, "probes", len(probes), "out", o.outDir)

	if o.json {
		data, err := json.MarshalIndent(probes, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	printProbeSummary(cmd, files, probes)
	return nil
}

// watchRoots returns the directories to watch: directory arguments and the
// parent directories of file arguments.
func watchRoots(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var roots []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("getting absolute path: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat path: %w", err)
		}
		if !info.IsDir() {
			abs = filepath.Dir(abs)
		}
		if !seen[abs] {
			seen[abs] = true
			roots = append(roots, abs)
		}
	}
	return roots, nil
}

// within reports whether path is base or lies below it.
func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// collectSources expands the arguments into C source files. Files inside
// the output directory are never picked up again.
func collectSources(cmd *cobra.Command, args []string, absOut string) ([]scanner.FileInfo, error) {
	var files []scanner.FileInfo
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat path: %w", err)
		}

		if !info.IsDir() {
			if err := checkSource(arg); err != nil {
				return nil, err
			}
			full, err := filepath.Abs(arg)
			if err != nil {
				return nil, fmt.Errorf("getting absolute path: %w", err)
			}
			files = append(files, scanner.FileInfo{
				Path:     filepath.Base(arg),
				FullPath: full,
				Kind:     scanner.Classify(filepath.Ext(arg)),
				Size:     info.Size(),
			})
			continue
		}

		opts := scanner.DefaultOptions()
		opts.Patterns = append(opts.Patterns, appConfig.Exclude...)
		if root, err := filepath.Abs(arg); err == nil {
			if rel, err := filepath.Rel(root, absOut); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
				opts.Patterns = append(opts.Patterns, "/"+filepath.ToSlash(rel)+"/")
			}
		}

		found, err := scanner.ScanWithOptions(cmd.Context(), arg, opts)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", arg, err)
		}
		files = append(files, found...)
	}
	return files, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// printProbeSummary shows probe counts per file.
func printProbeSummary(cmd *cobra.Command, files []scanner.FileInfo, probes []instrument.Probe) {
	perFile := make(map[string]int)
	functions := make(map[string]map[string]bool)
	for _, p := range probes {
		perFile[p.File]++
		if functions[p.File] == nil {
			functions[p.File] = make(map[string]bool)
		}
		functions[p.File][p.Function] = true
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"File", "Functions", "Probes"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})
	for _, f := range files {
		table.Append([]string{f.Path, strconv.Itoa(len(functions[f.Path])), strconv.Itoa(perFile[f.Path])})
	}
	table.SetFooter([]string{
		fmt.Sprintf("Total Files %d", len(files)),
		"",
		strconv.Itoa(len(probes)),
	})
	table.Render()
}

func init() {
	instrumentCmd.Flags().StringP("out", "o", "", "Output directory (default: output_dir from config)")
	instrumentCmd.Flags().StringSlice("functions", nil, "Only instrument these functions")
	instrumentCmd.Flags().Int("first-id", 0, "Id of the first probe")
	instrumentCmd.Flags().Bool("force", false, "Re-instrument sources that did not change")
	instrumentCmd.Flags().BoolP("json", "j", false, "Output the probes as JSON")
	instrumentCmd.Flags().BoolP("watch", "w", false, "Keep running and re-instrument changed sources")
	RootCmd.AddCommand(instrumentCmd)
}
