package harness

import (
	"context"
	"fmt"
	"os"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/parser"
	"github.com/Itshalffull/copf/internal/registry"
	"github.com/Itshalffull/copf/internal/schema"
	"github.com/Itshalffull/copf/internal/storage"
	"github.com/Itshalffull/copf/internal/synccompile"
	"github.com/Itshalffull/copf/internal/transport"
)

// ConceptHandlers maps a concept name to its action handlers, keyed the
// same way internal/transport.HandlerMap keys a single concept's actions.
// RunWithHandlers registers one in-process transport per concept found in
// the scenario's specs, wired to the matching entry here.
type ConceptHandlers map[string]transport.HandlerMap

// compiledSpecs holds the result of parsing and compiling a scenario's
// spec files, mirroring internal/cli.LoadResult. It is reimplemented here
// rather than imported because internal/cli already imports this package
// (via its "test" subcommand), and internal/cli cannot be imported back
// without an import cycle.
type compiledSpecs struct {
	Concepts []ir.ConceptSpec
	Syncs    []ir.SyncRule
}

// loadSpecFiles parses and compiles every path in paths, dispatching on
// file extension the same way internal/cli.LoadSpecs's directory scan
// does, and returns the first error encountered.
func loadSpecFiles(paths []string) (*compiledSpecs, error) {
	var result compiledSpecs
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		switch ext := fileExt(path); ext {
		case ".concept":
			cf, err := parser.ParseConcept(path, string(src))
			if err != nil {
				return nil, specParseError(path, err)
			}
			spec, _, err := schema.Compile(cf)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			result.Concepts = append(result.Concepts, spec)

		case ".sync":
			sf, err := parser.ParseSync(path, string(src))
			if err != nil {
				return nil, specParseError(path, err)
			}
			rule, err := synccompile.Compile(sf)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			result.Syncs = append(result.Syncs, rule)

		default:
			return nil, fmt.Errorf("%s: unrecognized spec file extension %q", path, ext)
		}
	}
	return &result, nil
}

func fileExt(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

func specParseError(path string, err error) error {
	if perr, ok := err.(*parser.Error); ok {
		return fmt.Errorf("%s:%s: %s", path, perr.Pos, perr.Msg)
	}
	return fmt.Errorf("%s: %w", path, err)
}

// registryDispatcher adapts a registry.Registry to engine.InvocationDispatcher,
// resolving an invocation's concept URI and dispatching at version 0 (no
// scenario in this harness exercises the migration-gate path).
type registryDispatcher struct {
	reg *registry.Registry
}

func (d *registryDispatcher) Dispatch(ctx context.Context, inv ir.Invocation) (ir.Completion, error) {
	return d.reg.Dispatch(ctx, ir.NewConceptURI(inv.Concept), inv, 0)
}

// buildRegistry wires one in-process transport per compiled concept to its
// matching handler set and its own isolated storage handle, registering
// each under its concept's URI at its declared version.
func buildRegistry(concepts []ir.ConceptSpec, handlers ConceptHandlers) (*registry.Registry, *storage.Registry) {
	storageReg := storage.NewRegistry()
	conceptReg := registry.New()

	for _, spec := range concepts {
		store := storageReg.Handle(spec.Name)
		tr := transport.NewInProcess(spec.Name, handlers[spec.Name], store)
		conceptReg.Register(ir.NewConceptURI(spec.Name), tr, spec.Version)
	}

	return conceptReg, storageReg
}

// recordToInterface converts an ir.Record to a plain map for trace
// comparison and golden-file serialization, mirroring how
// internal/cli/trace.go renders completion output for the same purpose.
func recordToInterface(rec ir.Record) map[string]interface{} {
	if rec == nil {
		return nil
	}
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = valueToInterface(v)
	}
	return out
}

func valueToInterface(v ir.Value) interface{} {
	switch val := v.(type) {
	case ir.Str:
		return string(val)
	case ir.Int:
		return int64(val)
	case ir.Bool:
		return bool(val)
	case ir.Null:
		return nil
	case ir.List:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = valueToInterface(elem)
		}
		return out
	case ir.Record:
		return recordToInterface(val)
	default:
		return nil
	}
}
