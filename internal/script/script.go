// Package script loads cron and subscription jobs from a JavaScript file.
//
// A script declares two optional global arrays:
//
//	cron = [{ name: "001", spec: "* * * * *", func: function () { ... } }];
//	subscribe = [{ name: "001", spec: "+", func: function (records) { ... } }];
//
// An entry may also set timeout, in milliseconds or as a duration string.
// Every invocation runs in a fresh runtime, so handlers share no state.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/openjobspec/ojs-jobrunner/internal/batch"
	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/jobs"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
	"github.com/openjobspec/ojs-jobrunner/internal/sink"
)

const (
	cronVar      = "cron"
	subscribeVar = "subscribe"
)

// loadTimeout bounds the top-level evaluation of a script.
const loadTimeout = 5 * time.Second

// Entry is one job declared by a script.
type Entry struct {
	Kind    string
	Index   int
	Name    string
	Spec    string
	Timeout time.Duration
}

// Program is a compiled job script.
type Program struct {
	path    string
	prog    *goja.Program
	entries []Entry
}

// Load reads and parses the script at path.
func Load(path string) (*Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(path, string(src))
}

// Parse compiles src and reads its job declarations.
func Parse(path, src string) (*Program, error) {
	prog, err := goja.Compile(filepath.Base(path), src, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	p := &Program{path: path, prog: prog}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	vm, release, err := p.run(ctx, &sandbox.Env{})
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", path, err)
	}
	defer release()

	found := false
	for _, list := range []struct{ name, kind string }{{cronVar, core.KindCron}, {subscribeVar, core.KindSubscription}} {
		v := vm.Get(list.name)
		if isNullish(v) {
			continue
		}
		found = true
		entries, err := readEntries(vm, v, list.name, list.kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		p.entries = append(p.entries, entries...)
	}
	if !found {
		return nil, fmt.Errorf("%s: script declares neither %s nor %s", path, cronVar, subscribeVar)
	}
	return p, nil
}

// Path returns the file the program was loaded from.
func (p *Program) Path() string { return p.path }

// Entries returns the declared jobs in declaration order.
func (p *Program) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Definitions turns the declared entries into job definitions whose
// handlers call back into the script.
func (p *Program) Definitions() []jobs.Definition {
	defs := make([]jobs.Definition, 0, len(p.entries))
	for _, e := range p.entries {
		switch e.Kind {
		case core.KindCron:
			defs = append(defs, &jobs.CronJob{
				Name:    e.Name,
				Spec:    e.Spec,
				Timeout: e.Timeout,
				Handler: p.cronHandler(e),
				Source:  p.path,
			})
		case core.KindSubscription:
			defs = append(defs, &jobs.SubscriptionJob{
				Name:    e.Name,
				Spec:    e.Spec,
				Timeout: e.Timeout,
				Handler: p.subscriptionHandler(e),
				Source:  p.path,
			})
		}
	}
	return defs
}

func (p *Program) cronHandler(e Entry) jobs.CronFunc {
	return func(ctx context.Context, env *sandbox.Env) (string, error) {
		return p.invoke(ctx, env, e, func(*goja.Runtime) ([]goja.Value, error) { return nil, nil })
	}
}

func (p *Program) subscriptionHandler(e Entry) jobs.SubscriptionFunc {
	return func(ctx context.Context, env *sandbox.Env, records core.Batch) (string, error) {
		return p.invoke(ctx, env, e, func(vm *goja.Runtime) ([]goja.Value, error) {
			arg, err := recordsValue(vm, records)
			if err != nil {
				return nil, err
			}
			return []goja.Value{arg}, nil
		})
	}
}

// recordsValue hands records to the script as a genuine JS array.
func recordsValue(vm *goja.Runtime, records core.Batch) (goja.Value, error) {
	data, err := batch.Encode(records)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is unavailable")
	}
	return parse(goja.Undefined(), vm.ToValue(string(data)))
}

func (p *Program) invoke(ctx context.Context, env *sandbox.Env, e Entry, args func(*goja.Runtime) ([]goja.Value, error)) (string, error) {
	vm, release, err := p.run(ctx, env)
	if err != nil {
		return "", err
	}
	defer release()
	fn, err := lookup(vm, e)
	if err != nil {
		return "", err
	}
	argv, err := args(vm)
	if err != nil {
		return "", err
	}
	v, err := fn(goja.Undefined(), argv...)
	if err != nil {
		return "", scriptError(ctx, err)
	}
	return result(v)
}

// run evaluates the program in a fresh runtime wired to env. The runtime
// is interrupted when ctx ends, until release is called.
func (p *Program) run(ctx context.Context, env *sandbox.Env) (*goja.Runtime, func() bool, error) {
	vm := goja.New()
	if err := bind(ctx, vm, env); err != nil {
		return nil, nil, err
	}
	release := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	if _, err := vm.RunProgram(p.prog); err != nil {
		release()
		return nil, nil, scriptError(ctx, err)
	}
	return vm, release, nil
}

func lookup(vm *goja.Runtime, e Entry) (goja.Callable, error) {
	list := cronVar
	if e.Kind == core.KindSubscription {
		list = subscribeVar
	}
	arr := vm.Get(list)
	if isNullish(arr) {
		return nil, fmt.Errorf("%s is no longer declared", list)
	}
	obj := arr.ToObject(vm)
	n := int(obj.Get("length").ToInteger())
	for i := 0; i < n; i++ {
		item := obj.Get(fmt.Sprint(i))
		if isNullish(item) {
			continue
		}
		io := item.ToObject(vm)
		if io.Get("name").String() != e.Name {
			continue
		}
		fn, ok := goja.AssertFunction(io.Get("func"))
		if !ok {
			return nil, fmt.Errorf("%s[%d] (%s): func is not a function", list, i, e.Name)
		}
		return fn, nil
	}
	return nil, fmt.Errorf("%s job %q not found in script", e.Kind, e.Name)
}

func readEntries(vm *goja.Runtime, v goja.Value, list, kind string) ([]Entry, error) {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, fmt.Errorf("%s must be an array", list)
	}
	n := int(obj.Get("length").ToInteger())
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		item, ok := obj.Get(fmt.Sprint(i)).(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: entry must be an object", list, i)
		}
		e := Entry{Kind: kind, Index: i}
		if e.Name = stringField(item, "name"); e.Name == "" {
			return nil, fmt.Errorf("%s[%d]: name is required", list, i)
		}
		if e.Spec = stringField(item, "spec"); e.Spec == "" {
			return nil, fmt.Errorf("%s[%d] (%s): spec is required", list, i, e.Name)
		}
		if _, ok := goja.AssertFunction(item.Get("func")); !ok {
			return nil, fmt.Errorf("%s[%d] (%s): func is not a function", list, i, e.Name)
		}
		d, err := timeoutField(item.Get("timeout"))
		if err != nil {
			return nil, fmt.Errorf("%s[%d] (%s): %w", list, i, e.Name, err)
		}
		e.Timeout = d
		entries = append(entries, e)
	}
	return entries, nil
}

func stringField(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if isNullish(v) {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func timeoutField(v goja.Value) (time.Duration, error) {
	if isNullish(v) {
		return 0, nil
	}
	switch x := v.Export().(type) {
	case int64:
		return time.Duration(x) * time.Millisecond, nil
	case float64:
		return time.Duration(x * float64(time.Millisecond)), nil
	case string:
		d, err := time.ParseDuration(x)
		if err != nil {
			return 0, fmt.Errorf("invalid timeout %q: %w", x, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("invalid timeout %v", v)
}

// result converts a handler return value to output text.
func result(v goja.Value) (string, error) {
	if isNullish(v) {
		return "", nil
	}
	switch x := v.Export().(type) {
	case string:
		return x, nil
	case []any:
		stmts := make([]string, 0, len(x))
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("result[%d] is %T, want string", i, item)
			}
			if s = sink.Terminate(s); s != "" {
				stmts = append(stmts, s)
			}
		}
		return strings.Join(stmts, "\n"), nil
	default:
		return "", fmt.Errorf("handler returned %T, want string", x)
	}
}

// scriptError maps an interrupted runtime to the context error so the
// sandbox can classify deadline overruns.
func scriptError(ctx context.Context, err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return fmt.Errorf("script error: %s", ex.Value().String())
	}
	return err
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
