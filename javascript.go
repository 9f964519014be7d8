package realtime

import (
	"context"

	"github.com/autom8ter/realtime/errors"
	"github.com/dop251/goja"
)

// ScriptFilter compiles a javascript expression into a Filter. The expression sees the document's values as
// `doc` and its id as `id`; the document passes if the expression is truthy. ex: `doc.email.endsWith("@x.com")`
// A stream's view is shared by every connection, so connection metadata is not exposed to the expression.
func ScriptFilter(script string) (Filter, error) {
	if script == "" {
		return nil, errors.New(errors.Validation, "empty filter script")
	}
	program, err := goja.Compile("filter", script, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to compile filter script")
	}
	return FilterFunc(func(ctx context.Context, doc *Document) (bool, error) {
		vm, err := getJavascriptVM(map[string]any{
			"doc": doc.Value(),
			"id":  doc.ID(),
		})
		if err != nil {
			return false, err
		}
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				vm.Interrupt(ctx.Err())
			case <-done:
			}
		}()
		v, err := vm.RunProgram(program)
		if err != nil {
			return false, errors.Wrap(err, errors.Internal, "failed to evaluate filter script")
		}
		return v.ToBoolean(), nil
	}), nil
}

// MustScriptFilter compiles the javascript expression into a Filter. It panics if the script is invalid.
func MustScriptFilter(script string) Filter {
	f, err := ScriptFilter(script)
	if err != nil {
		panic(err)
	}
	return f
}

func getJavascriptVM(overrides map[string]any) (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	for k, v := range overrides {
		if err := vm.Set(k, v); err != nil {
			return nil, err
		}
	}
	return vm, nil
}
