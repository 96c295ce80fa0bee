package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser evaluates CUE manifests.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
	}
}

// Parse unifies the given .cue files and directories into one manifest. All
// .cue files directly inside a directory are included.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Manifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		files, err := cueFiles(source)
		if err != nil {
			return nil, err
		}

		for _, file := range files {
			val, errs := cp.loadFile(file)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
				continue
			}
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
			sourceFiles = append(sourceFiles, file)
		}
	}

	if len(parseErrors) > 0 {
		return nil, &ManifestError{Errors: parseErrors}
	}
	if !cueValue.Exists() {
		return nil, &ManifestError{Errors: []ValidationError{{
			File:    strings.Join(sources, ", "),
			Message: "no CUE files found",
		}}}
	}

	return cp.extract(cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*Manifest, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, &ManifestError{Errors: convertCUEErrors(err)}
	}

	return cp.extract(val, []string{"inline"})
}

// cueFiles returns source itself, or the .cue files in it if it is a
// directory.
func cueFiles(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
	}
	if !info.IsDir() {
		return []string{source}, nil
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", source, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".cue") {
			files = append(files, filepath.Join(source, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}

	return val, nil
}

// extract checks val against the manifest schema and decodes its resources.
func (cp *CUEParser) extract(val cue.Value, sourceFiles []string) (*Manifest, error) {
	if err := cp.schemaRegistry.Check("manifest", val); err != nil {
		return nil, &ManifestError{Errors: convertCUEErrors(err)}
	}

	var doc map[string]any
	if err := val.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	source := strings.Join(sourceFiles, ", ")
	resources, errs := extractResources(doc, source)
	if len(errs) > 0 {
		return nil, &ManifestError{Errors: errs}
	}

	return &Manifest{SourceFiles: sourceFiles, Resources: resources}, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice. Positions
// inside the built-in schemas are skipped in favour of the manifest's own.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path: strings.Join(e.Path(), "."),
		}
		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)

		for _, pos := range errors.Positions(e) {
			if strings.HasPrefix(pos.Filename(), schemaFilePrefix) {
				continue
			}
			ve.File = pos.Filename()
			ve.Line = pos.Line()
			ve.Column = pos.Column()
			break
		}

		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}
