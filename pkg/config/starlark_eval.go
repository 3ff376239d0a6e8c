package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator executes scripted documents. A script receives the
// workspace variables as the predeclared "vars" dict and exports any of
// the globals "workspace", "groups", and "instances", which are decoded
// the same way the static formats are. Execution is sandboxed: no
// filesystem, no network, and a hard timeout.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator. A zero timeout
// selects the 30 second default.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// EvalDocument executes a script and decodes its exported globals into a
// document. The filename is used in error positions only.
func (se *StarlarkEvaluator) EvalDocument(ctx context.Context, filename, script string, vars map[string]interface{}) (*Document, error) {
	globals, err := se.exec(ctx, filename, script, vars)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		SourceFiles: []string{filename},
		ParsedAt:    time.Now(),
	}

	if v, ok := globals["workspace"]; ok {
		if err := decodeStarlark(v, &doc.Workspace); err != nil {
			return nil, fmt.Errorf("%s: workspace: %w", filename, err)
		}
	}
	if v, ok := globals["groups"]; ok {
		if err := decodeStarlark(v, &doc.Groups); err != nil {
			return nil, fmt.Errorf("%s: groups: %w", filename, err)
		}
	}
	if v, ok := globals["instances"]; ok {
		if err := decodeStarlark(v, &doc.Instances); err != nil {
			return nil, fmt.Errorf("%s: instances: %w", filename, err)
		}
	}

	return doc, nil
}

// exec runs the script on its own goroutine so the timeout holds even
// when the script never yields.
func (se *StarlarkEvaluator) exec(ctx context.Context, filename, script string, vars map[string]interface{}) (starlark.StringDict, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)

	thread := &starlark.Thread{
		Name:  "cloudverge",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	go func() {
		globals, err := starlark.ExecFile(thread, filename, script, se.predeclared(vars))
		done <- outcome{globals, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return nil, fmt.Errorf("%s: execution timed out after %v", filename, se.timeout)
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", filename, out.err)
		}
		return out.globals, nil
	}
}

func (se *StarlarkEvaluator) predeclared(vars map[string]interface{}) starlark.StringDict {
	varsDict := starlark.NewDict(len(vars))
	for k, v := range vars {
		val, err := toStarlark(v)
		if err != nil {
			continue
		}
		varsDict.SetKey(starlark.String(k), val)
	}

	return starlark.StringDict{
		"struct": starlarkstruct.Default,
		"vars":   varsDict,
	}
}

// decodeStarlark converts a Starlark value to Go data and routes it
// through JSON so the rule and filter shorthand decoders apply.
func decodeStarlark(v starlark.Value, out interface{}) error {
	goVal, err := fromStarlark(v)
	if err != nil {
		return err
	}
	data, err := json.Marshal(goVal)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func toStarlark(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		elems := make([]starlark.Value, len(val))
		for i, item := range val {
			elem, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			elems[i] = elem
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			elem, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), elem); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func fromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		return fromStarlarkSeq(val.Len(), val.Index)
	case *starlark.List:
		return fromStarlarkSeq(val.Len(), val.Index)
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			elem, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = elem
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			elem, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			out[name] = elem
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}

func fromStarlarkSeq(n int, index func(int) starlark.Value) (interface{}, error) {
	out := make([]interface{}, n)
	for i := 0; i < n; i++ {
		elem, err := fromStarlark(index(i))
		if err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}
