package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/shufflesync/internal/harness"
	"github.com/roach88/shufflesync/internal/sqlstore"
	"github.com/roach88/shufflesync/internal/store"
)

// ScenarioOptions holds flags for the scenario commands.
type ScenarioOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to ../golden next to each scenario file
	Store     string // "memory" or "sqlite"
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// RunResult holds the overall result of a scenario run.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run and validate YAML scenarios",
	}

	run := &cobra.Command{
		Use:   "run <path>",
		Short: "Run scenarios against two in-process replicas",
		Long: `Run scenario files against two replicas sharing one store.

Each scenario checks its expect clauses and assertions, then compares its
trace and converged views with a golden file when one exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  shufflesync scenario run ./scenarios
  shufflesync scenario run ./scenarios --filter "list_*"
  shufflesync scenario run ./scenarios --update
  shufflesync scenario run ./scenarios --store sqlite --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}
	run.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	run.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	run.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory")
	run.Flags().StringVar(&opts.Store, "store", "memory", "store per scenario (memory|sqlite)")

	validate := &cobra.Command{
		Use:   "validate <path>",
		Short: "Parse and check scenario files without running them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateScenarios(opts, args[0], cmd)
		},
	}
	validate.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	cmd.AddCommand(run, validate)
	return cmd
}

func runScenarios(opts *ScenarioOptions, path string, cmd *cobra.Command) error {
	if opts.Store != "memory" && opts.Store != "sqlite" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid store %q: must be memory or sqlite", opts.Store))
	}
	files, err := findScenarioFiles(path, opts.Filter)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	if len(files) == 0 && opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	for _, file := range files {
		res := runScenarioFile(ctx, opts, file)
		result.Scenarios = append(result.Scenarios, res)
		if res.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		if opts.Format != "json" {
			printScenarioResult(cmd, res)
		}
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, result)
	}
	return outputRunText(cmd, result)
}

// findScenarioFiles returns path itself if it is a file, or every YAML
// file under it.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", path))
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	return files, nil
}

func runScenarioFile(ctx context.Context, opts *ScenarioOptions, file string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	var runOpts []harness.Option
	if opts.Store == "sqlite" {
		dir, err := os.MkdirTemp("", "shufflesync-scenario-")
		if err != nil {
			return ScenarioResult{Name: scenario.Name, Errors: []string{err.Error()}}
		}
		defer os.RemoveAll(dir)
		dsn := filepath.Join(dir, "scenario.db")
		runOpts = append(runOpts, harness.WithStore(func(ctx context.Context) (store.Store, error) {
			return sqlstore.Open(ctx, sqlstore.DriverSQLite3, dsn)
		}))
	}

	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	res := ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
	goldenPath := opts.goldenPath(file, scenario.Name)

	if opts.Update {
		if err := writeGolden(goldenPath, scenario.Name, result); err != nil {
			res.Pass = false
			res.Errors = append(res.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return res
	}

	want, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return res
	}
	if err != nil {
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		return res
	}
	got, err := harness.MarshalTrace(scenario.Name, result)
	if err != nil {
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf("failed to marshal trace: %v", err))
		return res
	}
	if !bytes.Equal(want, got) {
		res.Pass = false
		res.Errors = append(res.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	return res
}

func (o *ScenarioOptions) goldenPath(file, name string) string {
	dir := o.GoldenDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(filepath.Dir(file)), "golden")
	}
	return filepath.Join(dir, name+".golden")
}

func writeGolden(path, name string, result *harness.Result) error {
	data, err := harness.MarshalTrace(name, result)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func printScenarioResult(cmd *cobra.Command, res ScenarioResult) {
	w := cmd.OutOrStdout()
	if res.Pass {
		fmt.Fprintf(w, "✓ %s\n", res.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", res.Name)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func outputRunJSON(cmd *cobra.Command, result RunResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func outputRunText(cmd *cobra.Command, result RunResult) error {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

func validateScenarios(opts *ScenarioOptions, path string, cmd *cobra.Command) error {
	files, err := findScenarioFiles(path, opts.Filter)
	if err != nil {
		return err
	}

	result := RunResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		res := ScenarioResult{Name: filepath.Base(file), Pass: true}
		if s, err := harness.LoadScenario(file); err != nil {
			res.Pass = false
			res.Errors = []string{err.Error()}
		} else {
			res.Name = s.Name
		}
		result.Scenarios = append(result.Scenarios, res)
		if res.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		if opts.Format != "json" {
			printScenarioResult(cmd, res)
		}
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, result)
	}
	return outputRunText(cmd, result)
}
