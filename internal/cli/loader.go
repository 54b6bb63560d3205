package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/lexer"
	"github.com/Itshalffull/copf/internal/parser"
	"github.com/Itshalffull/copf/internal/schema"
	"github.com/Itshalffull/copf/internal/synccompile"
)

// LoadMode controls how errors are handled during spec loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading specs from a directory.
type LoadResult struct {
	Concepts     []ir.ConceptSpec
	ConceptFiles []string // source file for Concepts[i], same index
	Syncs        []ir.SyncRule
	Warnings     []schema.Warning
	FileCount    int // number of .concept/.sync files found
}

// LoadError represents an error that occurred during spec loading, with a
// source position when the underlying failure was a parse error.
type LoadError struct {
	Code    string
	Message string
	File    string
	Pos     lexer.Position
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%s: %s: %s", e.File, e.Pos, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSpecs loads, parses, and compiles every .concept and .sync file in
// dir. If mode is LoadModeFailFast, returns on the first error; if
// LoadModeCollectAll, keeps going and returns every error found.
func LoadSpecs(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	conceptFiles, syncFiles, err := findSpecFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(conceptFiles) == 0 && len(syncFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no .concept or .sync files found in %s", dir)}}
	}

	result := &LoadResult{FileCount: len(conceptFiles) + len(syncFiles)}

	for _, path := range conceptFiles {
		spec, warnings, loadErr := loadConceptFile(path)
		if loadErr != nil {
			errs = append(errs, loadErr)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Concepts = append(result.Concepts, spec)
		result.ConceptFiles = append(result.ConceptFiles, path)
		result.Warnings = append(result.Warnings, warnings...)
	}

	for _, path := range syncFiles {
		rule, loadErr := loadSyncFile(path)
		if loadErr != nil {
			errs = append(errs, loadErr)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Syncs = append(result.Syncs, rule)
	}

	if len(result.Concepts) == 0 && len(result.Syncs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no concepts or syncs found in specs"})
	}

	return result, errs
}

func loadConceptFile(path string) (ir.ConceptSpec, []schema.Warning, *LoadError) {
	src, err := os.ReadFile(path)
	if err != nil {
		return ir.ConceptSpec{}, nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	cf, err := parser.ParseConcept(path, string(src))
	if err != nil {
		return ir.ConceptSpec{}, nil, loadErrorFromParse(path, err)
	}
	spec, warnings, err := schema.Compile(cf)
	if err != nil {
		return ir.ConceptSpec{}, nil, &LoadError{Code: MapFieldToErrorCode("concept"), Message: err.Error(), File: path}
	}
	return spec, warnings, nil
}

func loadSyncFile(path string) (ir.SyncRule, *LoadError) {
	src, err := os.ReadFile(path)
	if err != nil {
		return ir.SyncRule{}, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	sf, err := parser.ParseSync(path, string(src))
	if err != nil {
		return ir.SyncRule{}, loadErrorFromParse(path, err)
	}
	rule, err := synccompile.Compile(sf)
	if err != nil {
		return ir.SyncRule{}, &LoadError{Code: MapFieldToErrorCode("then"), Message: err.Error(), File: path}
	}
	return rule, nil
}

func loadErrorFromParse(path string, err error) *LoadError {
	if perr, ok := err.(*parser.Error); ok {
		return &LoadError{Code: ErrCodeLoadFailed, Message: perr.Msg, File: path, Pos: perr.Pos}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), File: path}
}

// findSpecFiles walks dir and returns all .concept and .sync file paths,
// sorted for deterministic load order.
func findSpecFiles(dir string) (concepts, syncs []string, err error) {
	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".concept":
			concepts = append(concepts, path)
		case ".sync":
			syncs = append(syncs, path)
		}
		return nil
	})
	sort.Strings(concepts)
	sort.Strings(syncs)
	return concepts, syncs, err
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No spec files found
	ErrCodeLoadFailed  = "E004" // parse failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Concept validation errors
	ErrCodeConceptPurpose = "E101" // Missing purpose
	ErrCodeConceptActions = "E102" // No actions defined
	ErrCodeActionOutputs  = "E103" // No outputs defined
	ErrCodeInvalidType    = "E104" // Invalid field type (e.g., float)

	// Sync validation errors
	ErrCodeInvalidScope = "E111" // Invalid scope mode
	ErrCodeInvalidWhen  = "E110" // Invalid when clause
	ErrCodeInvalidWhere = "E112" // Invalid where clause
	ErrCodeInvalidThen  = "E113" // Invalid then clause
)

// MapFieldToErrorCode maps a compile-phase diagnostic's subject to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "purpose":
		return ErrCodeConceptPurpose
	case "action", "concept":
		return ErrCodeConceptActions
	case "outputs":
		return ErrCodeActionOutputs
	case "type":
		return ErrCodeInvalidType
	case "scope":
		return ErrCodeInvalidScope
	case "when":
		return ErrCodeInvalidWhen
	case "where":
		return ErrCodeInvalidWhere
	case "then":
		return ErrCodeInvalidThen
	default:
		return ErrCodeGeneric
	}
}
