package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Itshalffull/copf/internal/kind"
	"github.com/Itshalffull/copf/internal/storage"
)

// bootstrapKindGraph builds the standard kind/transform graph: the pipeline
// a .concept file travels from source text to generated target-language
// output. Each CLI invocation rebuilds it fresh since the kind system's
// registrations are idempotent and cheap to redo.
func bootstrapKindGraph() *kind.System {
	sys := kind.New(storage.NewMapStorage())

	sys.Define("ConceptDSL", "source")
	sys.Define("ConceptAST", "model")
	sys.Define("ConceptManifest", "model")
	sys.Define("TypeScriptFiles", "artifact")

	sys.Connect("ConceptDSL", "ConceptAST", "parses_to", "SpecParser")
	sys.Connect("ConceptAST", "ConceptManifest", "normalizes_to", "SchemaGen")
	sys.Connect("ConceptManifest", "TypeScriptFiles", "renders_to", "TypeScriptGen")

	return sys
}

// NewKindsCommand creates the kinds command, with list/path/consumers/producers
// subcommands over the standard bootstrap kind graph (spec §4.G).
func NewKindsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "Query the kind/transform graph",
		Long: `Query the standard kind/transform graph: the source, model, and
artifact kinds a .concept file passes through on its way to generated output,
and the named transforms that connect them.`,
	}

	cmd.AddCommand(newKindsListCommand(rootOpts))
	cmd.AddCommand(newKindsPathCommand(rootOpts))
	cmd.AddCommand(newKindsConsumersCommand(rootOpts))
	cmd.AddCommand(newKindsProducersCommand(rootOpts))

	return cmd
}

func newKindsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List all kinds and edges",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph := bootstrapKindGraph().Graph()
			return outputKinds(rootOpts, cmd, graph)
		},
	}
}

func newKindsPathCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "path <from> <to>",
		Short:         "Find the shortest transform path between two kinds",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := bootstrapKindGraph().Route(args[0], args[1])
			if err != nil {
				return outputKindsError(rootOpts, cmd, err)
			}
			return outputKindsPath(rootOpts, cmd, args[0], args[1], path)
		},
	}
}

func newKindsConsumersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "consumers <kind>",
		Short:         "List outgoing edges from a kind",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			edges := bootstrapKindGraph().Consumers(args[0])
			return outputKindEdges(rootOpts, cmd, edges)
		},
	}
}

func newKindsProducersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "producers <kind>",
		Short:         "List incoming edges into a kind",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			edges := bootstrapKindGraph().Producers(args[0])
			return outputKindEdges(rootOpts, cmd, edges)
		},
	}
}

func outputKinds(rootOpts *RootOptions, cmd *cobra.Command, graph kind.Graph) error {
	if rootOpts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: graph})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Kinds:")
	for _, k := range graph.Kinds {
		fmt.Fprintf(w, "  %s (%s)\n", k.Name, k.Category)
	}
	fmt.Fprintln(w, "Edges:")
	for _, e := range graph.Edges {
		fmt.Fprintf(w, "  %s --%s[%s]--> %s\n", e.From, e.Relation, e.Transform, e.To)
	}
	return nil
}

func outputKindEdges(rootOpts *RootOptions, cmd *cobra.Command, edges []kind.Edge) error {
	if rootOpts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: edges})
	}

	w := cmd.OutOrStdout()
	if len(edges) == 0 {
		fmt.Fprintln(w, "(no edges)")
		return nil
	}
	for _, e := range edges {
		fmt.Fprintf(w, "%s --%s[%s]--> %s\n", e.From, e.Relation, e.Transform, e.To)
	}
	return nil
}

func outputKindsPath(rootOpts *RootOptions, cmd *cobra.Command, from, to string, path kind.Path) error {
	if rootOpts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: path})
	}

	w := cmd.OutOrStdout()
	if len(path) == 0 {
		fmt.Fprintf(w, "%s is already %s\n", from, to)
		return nil
	}
	cur := from
	for _, step := range path {
		fmt.Fprintf(w, "%s --%s[%s]--> %s\n", cur, step.Relation, step.Transform, step.Kind)
		cur = step.Kind
	}
	return nil
}

func outputKindsError(rootOpts *RootOptions, cmd *cobra.Command, err error) error {
	if rootOpts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: "E_UNREACHABLE", Message: err.Error()},
		})
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", err.Error())
	}
	return NewExitError(ExitFailure, err.Error())
}
