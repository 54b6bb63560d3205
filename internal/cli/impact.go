package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Itshalffull/copf/internal/cache"
	"github.com/Itshalffull/copf/internal/emitter"
	"github.com/Itshalffull/copf/internal/storage"
)

// ImpactOptions holds flags for the impact command.
type ImpactOptions struct {
	*RootOptions
}

// ImpactResult holds the outputs affected by a source file.
type ImpactResult struct {
	Source  string   `json:"source"`
	Outputs []string `json:"outputs"`
}

// NewImpactCommand creates the impact command. It re-emits canonical IR for
// every concept in specs-dir (idempotent: identical content is a no-op) and
// then reports which emitted outputs trace their provenance back to the
// given source file (spec §4.H's affected() reverse lookup).
func NewImpactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImpactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "impact <specs-dir> <source-file>",
		Short: "Find generated outputs affected by a source file",
		Long: `Find which generated outputs depend on a given .concept or .sync source
file, via the emitter's content-addressed provenance records.

Re-emits each concept's canonical IR under <specs-dir>/.copf-cache/ir/ (a
no-op if the content is unchanged) and then reverse-looks-up which of those
outputs were produced from <source-file>.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImpact(opts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runImpact(opts *ImpactOptions, specsDir, source string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	em := emitter.New(storage.NewMapStorage())
	outDir := filepath.Join(specsDir, cache.DirName, "ir")

	for i, concept := range loadResult.Concepts {
		content, err := json.MarshalIndent(concept, "", "  ")
		if err != nil {
			return outputCompileError(formatter, ErrCodeGeneric, fmt.Sprintf("marshaling %s: %v", concept.Name, err), nil)
		}

		var sources []string
		if i < len(loadResult.ConceptFiles) {
			sources = []string{loadResult.ConceptFiles[i]}
		}

		outPath := filepath.Join(outDir, concept.Name+".json")
		if _, err := em.Write(outPath, content, "ir-json", concept.Name, sources); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("emitting %s: %v", concept.Name, err), nil)
		}
	}

	result := ImpactResult{Source: source, Outputs: em.Affected(source)}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if len(result.Outputs) == 0 {
		fmt.Fprintf(formatter.Writer, "No generated outputs trace back to %s\n", source)
		return nil
	}

	fmt.Fprintf(formatter.Writer, "Outputs affected by %s:\n", source)
	for _, out := range result.Outputs {
		fmt.Fprintf(formatter.Writer, "  %s\n", out)
	}
	return nil
}
