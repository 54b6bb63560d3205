package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Itshalffull/copf/internal/cache"
	"github.com/Itshalffull/copf/internal/compiler"
	"github.com/Itshalffull/copf/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
	Cache  bool   // skip recompilation of unchanged concept specs via .copf-cache
}

// CompilationResult holds the compiled concepts and sync rules.
type CompilationResult struct {
	Concepts      []ir.ConceptSpec        `json:"concepts"`
	Syncs         []ir.SyncRule           `json:"syncs"`
	CycleWarnings []compiler.CycleWarning `json:"cycle_warnings,omitempty"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	ConceptCount    int
	SyncCount       int
	TotalActions    int
	TotalInvariants int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "compile <specs-dir>",
		Aliases: []string{"generate"},
		Short:   "Compile concept and sync specs to canonical IR",
		Long: `Compile concept specs and sync rules to canonical IR format.

Parses .concept and .sync files, validates them against the IR schema,
and outputs canonical JSON for use by the engine.

With --cache, concept specs whose source hasn't changed since the last
run are served from .copf-cache/ instead of being reparsed; sync rules
are always recompiled since their bindings can't be safely cached.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().BoolVar(&opts.Cache, "cache", false, "skip recompiling unchanged concept specs via .copf-cache")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cacheDir := filepath.Join(specsDir, cache.DirName)
	var cacheHit bool
	var cachedConcepts []ir.ConceptSpec
	var sourceHashes map[string]string

	if opts.Cache {
		conceptFiles, syncFiles, err := findSpecFiles(specsDir)
		if err == nil {
			hashes, hashErr := cache.HashFiles(append(append([]string{}, conceptFiles...), syncFiles...))
			if hashErr == nil {
				sourceHashes = hashes
				loaded := cache.Load(cacheDir)
				if !loaded.Stale(hashes) {
					cacheHit = true
					cachedConcepts = loaded.Concepts
					formatter.VerboseLog("Cache hit: %d concept(s) served from %s", len(cachedConcepts), cacheDir)
				}
			}
		}
	}

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)

	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d spec file(s) in %s", loadResult.FileCount, specsDir)
	for _, concept := range loadResult.Concepts {
		formatter.VerboseLog("Compiling concept: %s", concept.Name)
	}
	for _, sync := range loadResult.Syncs {
		formatter.VerboseLog("Compiling sync: %s", sync.ID)
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	concepts := loadResult.Concepts
	if cacheHit {
		concepts = cachedConcepts
	} else if opts.Cache && sourceHashes != nil {
		if err := cache.Store(cacheDir, sourceHashes, loadResult.Concepts); err != nil {
			formatter.VerboseLog("Warning: failed to write compile cache: %v", err)
		}
	}

	result := &CompilationResult{
		Concepts:      concepts,
		Syncs:         loadResult.Syncs,
		CycleWarnings: compiler.AnalyzeCycles(concepts, loadResult.Syncs),
	}

	stats := calculateStats(result)

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// calculateStats computes summary statistics from compilation result.
func calculateStats(result *CompilationResult) CompilationStats {
	stats := CompilationStats{
		ConceptCount: len(result.Concepts),
		SyncCount:    len(result.Syncs),
	}

	for _, concept := range result.Concepts {
		stats.TotalActions += len(concept.Actions)
		stats.TotalInvariants += len(concept.Invariants)
	}

	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d concept(s), %d sync(s)\n\n",
		stats.ConceptCount, stats.SyncCount)

	if len(result.Concepts) > 0 {
		fmt.Fprintln(formatter.Writer, "Concepts:")
		for _, concept := range result.Concepts {
			invCount := len(concept.Invariants)
			suffix := "invariants"
			if invCount == 1 {
				suffix = "invariant"
			}
			fmt.Fprintf(formatter.Writer, "  %s: %d action(s), %d %s\n",
				concept.Name, len(concept.Actions), invCount, suffix)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(result.Syncs) > 0 {
		fmt.Fprintln(formatter.Writer, "Syncs:")
		for _, sync := range result.Syncs {
			if len(sync.When) == 0 || len(sync.Then) == 0 {
				continue
			}
			fmt.Fprintf(formatter.Writer, "  %s: %s.%s → %s.%s\n",
				sync.ID, sync.When[0].Concept, sync.When[0].Action, sync.Then[0].Concept, sync.Then[0].Action)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(result.CycleWarnings) > 0 {
		fmt.Fprintln(formatter.Writer, "Cycle warnings:")
		for _, w := range result.CycleWarnings {
			fmt.Fprintf(formatter.Writer, "  %s\n", w.Message)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical IR to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.File != "" {
			fmt.Fprintf(formatter.Writer, "%s:%s\n", loadErr.File, loadErr.Pos)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeIRToFile writes the compilation result to a file in canonical JSON format.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
