package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader loads desired state documents from CUE, YAML, and Starlark
// sources and merges them into a single document.
type Loader struct {
	cue       *CUEParser
	starlark  *StarlarkEvaluator
	validator *validator.Validate
}

// NewLoader creates a loader with default settings.
func NewLoader() *Loader {
	return &Loader{
		cue:       NewCUEParser(),
		starlark:  NewStarlarkEvaluator(0),
		validator: validator.New(),
	}
}

// Load parses every source and merges the results. Directories and .cue
// files go through the CUE parser, .yaml/.yml through the YAML decoder,
// and .star scripts through the Starlark evaluator. Scripts see the
// workspace variables of the static sources, so static sources are
// parsed first.
func (l *Loader) Load(ctx context.Context, sources []string) (*Document, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueSources, yamlSources, starSources []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		switch {
		case info.IsDir():
			cueSources = append(cueSources, source)
		default:
			switch strings.ToLower(filepath.Ext(source)) {
			case ".cue":
				cueSources = append(cueSources, source)
			case ".yaml", ".yml":
				yamlSources = append(yamlSources, source)
			case ".star":
				starSources = append(starSources, source)
			default:
				return nil, fmt.Errorf("unsupported source %s: want .cue, .yaml, .yml, or .star", source)
			}
		}
	}

	var docs []*Document
	if len(cueSources) > 0 {
		doc, err := l.cue.Parse(cueSources)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	for _, path := range yamlSources {
		doc, err := l.loadYAML(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	merged := mergeDocuments(docs)

	for _, path := range starSources {
		doc, err := l.loadStarlark(ctx, path, merged.Workspace.Variables)
		if err != nil {
			return nil, err
		}
		merged = mergeDocuments([]*Document{merged, doc})
	}

	l.validate(merged)
	return merged, nil
}

// loadYAML decodes a YAML source. Decoding goes through JSON so the rule
// and filter shorthand decoders apply.
func (l *Loader) loadYAML(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return &Document{
			SourceFiles: []string{path},
			ParsedAt:    time.Now(),
			Errors: []ValidationError{{
				File:     path,
				Message:  err.Error(),
				Severity: "error",
			}},
		}, nil
	}

	for key := range raw {
		switch key {
		case "workspace", "groups", "instances":
		default:
			return &Document{
				SourceFiles: []string{path},
				ParsedAt:    time.Now(),
				Errors: []ValidationError{{
					File:     path,
					Path:     key,
					Message:  fmt.Sprintf("unknown top-level field %q", key),
					Severity: "error",
				}},
			}, nil
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", path, err)
	}

	doc := &Document{
		SourceFiles: []string{path},
		ParsedAt:    time.Now(),
	}
	var body struct {
		Workspace WorkspaceConfig `json:"workspace"`
		Groups    []GroupSpec     `json:"groups"`
		Instances []InstanceSpec  `json:"instances"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		doc.Errors = append(doc.Errors, ValidationError{
			File:     path,
			Message:  err.Error(),
			Severity: "error",
		})
		return doc, nil
	}

	doc.Workspace = body.Workspace
	doc.Groups = body.Groups
	doc.Instances = body.Instances
	return doc, nil
}

// loadStarlark executes a scripted source.
func (l *Loader) loadStarlark(ctx context.Context, path string, vars map[string]interface{}) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return l.starlark.EvalDocument(ctx, path, string(content), vars)
}

// mergeDocuments combines parsed documents. Groups and instances append
// in source order; the first named workspace wins and a second one with
// a different name is an error. Two declarations for the same group
// identity are an error.
func mergeDocuments(docs []*Document) *Document {
	merged := &Document{ParsedAt: time.Now()}

	seenGroups := make(map[string]string)
	for _, doc := range docs {
		merged.SourceFiles = append(merged.SourceFiles, doc.SourceFiles...)
		merged.Errors = append(merged.Errors, doc.Errors...)

		if doc.Workspace.Name != "" {
			if merged.Workspace.Name == "" {
				merged.Workspace = doc.Workspace
			} else if merged.Workspace.Name != doc.Workspace.Name {
				merged.Errors = append(merged.Errors, ValidationError{
					Path: "workspace.name",
					Message: fmt.Sprintf("conflicting workspace names %q and %q",
						merged.Workspace.Name, doc.Workspace.Name),
					Severity: "error",
				})
			}
		}

		for _, group := range doc.Groups {
			key := group.GroupID
			if key == "" {
				key = group.Name + "/" + group.VpcID
			}
			if prev, dup := seenGroups[key]; dup {
				merged.Errors = append(merged.Errors, ValidationError{
					Path: "groups",
					Message: fmt.Sprintf("group %q declared in %s and %s",
						group.Name, prev, sourceName(doc)),
					Severity: "error",
				})
				continue
			}
			seenGroups[key] = sourceName(doc)
			merged.Groups = append(merged.Groups, group)
		}

		merged.Instances = append(merged.Instances, doc.Instances...)
	}

	return merged
}

func sourceName(doc *Document) string {
	if len(doc.SourceFiles) == 0 {
		return "inline"
	}
	return doc.SourceFiles[0]
}

// validate runs struct validation over the merged document and appends
// findings to its error list.
func (l *Loader) validate(doc *Document) {
	if doc.Workspace.Name != "" {
		if err := l.validator.Struct(doc.Workspace); err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     "workspace",
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}
	for i, group := range doc.Groups {
		if err := l.validator.Struct(group); err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     fmt.Sprintf("groups[%d]", i),
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}
	for i, instance := range doc.Instances {
		if err := l.validator.Struct(instance); err != nil {
			doc.Errors = append(doc.Errors, ValidationError{
				Path:     fmt.Sprintf("instances[%d]", i),
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}
}

// Err returns a single error summarizing the document's validation
// errors, or nil when the document is clean.
func (d *Document) Err() error {
	if len(d.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(d.Errors))
	for i, e := range d.Errors {
		msgs[i] = e.String()
	}
	return fmt.Errorf("%d validation error(s):\n  %s", len(d.Errors), strings.Join(msgs, "\n  "))
}
