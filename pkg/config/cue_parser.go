package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// CUEParser parses and validates CUE desired state documents.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: NewSchemaRegistry(),
		validator:      validator.New(),
	}
}

// Parse parses CUE sources into a single document. Sources may be files or
// directories; multiple sources are unified before extraction, so a value
// set in one file constrains the same path in every other.
func (cp *CUEParser) Parse(sources []string) (*Document, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var files []string
		var errs []ValidationError
		if info.IsDir() {
			val, files, errs = cp.loadDirectory(source)
		} else {
			val, errs = cp.loadFile(source)
			files = []string{source}
		}

		parseErrors = append(parseErrors, errs...)
		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
		sourceFiles = append(sourceFiles, files...)
	}

	if len(parseErrors) > 0 {
		return &Document{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &Document{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractDocument(cueValue, sourceFiles), nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(content string) (*Document, error) {
	val := cp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &Document{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractDocument(val, []string{"inline"}), nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractDocument extracts workspace, groups, and instances from a CUE
// value. Extraction goes through JSON so the rule and filter shorthand
// decoders apply to CUE documents exactly as they do to YAML ones.
func (cp *CUEParser) extractDocument(val cue.Value, sourceFiles []string) *Document {
	doc := &Document{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	if ws := val.LookupPath(cue.ParsePath("workspace")); ws.Exists() {
		if err := decodeValue(ws, &doc.Workspace); err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     "workspace",
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}

	cp.extractGroups(val, doc)
	cp.extractInstances(val, doc)

	return doc
}

// extractGroups reads the groups field, which may be a list or a struct
// keyed by group name.
func (cp *CUEParser) extractGroups(val cue.Value, doc *Document) {
	groupsVal := val.LookupPath(cue.ParsePath("groups"))
	if !groupsVal.Exists() {
		return
	}

	forEachEntry(groupsVal, doc, "groups", func(key, path string, v cue.Value) {
		var group GroupSpec
		if err := decodeValue(v, &group); err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     path,
				Message:  err.Error(),
				Severity: "error",
			})
			return
		}
		if group.Name == "" {
			group.Name = key
		}
		if err := cp.validator.Struct(group); err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     path,
				Message:  err.Error(),
				Severity: "error",
			})
			return
		}
		doc.Groups = append(doc.Groups, group)
	})
}

// extractInstances reads the instances field, which may be a list or a
// struct keyed by the instance Name tag.
func (cp *CUEParser) extractInstances(val cue.Value, doc *Document) {
	instancesVal := val.LookupPath(cue.ParsePath("instances"))
	if !instancesVal.Exists() {
		return
	}

	forEachEntry(instancesVal, doc, "instances", func(key, path string, v cue.Value) {
		var instance InstanceSpec
		if err := decodeValue(v, &instance); err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     path,
				Message:  err.Error(),
				Severity: "error",
			})
			return
		}
		if instance.Name == "" {
			instance.Name = key
		}
		if err := cp.validator.Struct(instance); err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     path,
				Message:  err.Error(),
				Severity: "error",
			})
			return
		}
		doc.Instances = append(doc.Instances, instance)
	})
}

// forEachEntry iterates a struct or list value, handing each element to fn
// along with its key (struct field name, empty for lists) and its document
// path for error reporting.
func forEachEntry(val cue.Value, doc *Document, field string, fn func(key, path string, v cue.Value)) {
	switch val.Kind() {
	case cue.StructKind:
		iter, err := val.Fields(cue.All())
		if err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     field,
				Message:  fmt.Sprintf("failed to iterate %s: %v", field, err),
				Severity: "error",
			})
			return
		}
		for iter.Next() {
			key := iter.Selector().Unquoted()
			fn(key, fmt.Sprintf("%s.%s", field, key), iter.Value())
		}
	case cue.ListKind:
		list, err := val.List()
		if err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     field,
				Message:  fmt.Sprintf("failed to list %s: %v", field, err),
				Severity: "error",
			})
			return
		}
		for idx := 0; list.Next(); idx++ {
			fn("", fmt.Sprintf("%s[%d]", field, idx), list.Value())
		}
	default:
		doc.Errors = append(doc.Errors, ValidationError{
			Path:     field,
			Message:  fmt.Sprintf("%s must be a list or a struct, got %s", field, val.Kind()),
			Severity: "error",
		})
	}
}

// decodeValue decodes a CUE value through its JSON form so that custom
// unmarshalers on the target run.
func decodeValue(v cue.Value, out interface{}) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}
