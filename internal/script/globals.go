package script

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/openjobspec/ojs-jobrunner/internal/batch"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
)

// bind installs the capability globals on vm:
//
//	$.trace, $.q(method, url, data, mode[, callback])
//	quote(v), col(v), now(), date(s), isSequence(v), isRecord(v), ID()
//	nats.name, nats.subject, nats.pub(data) / nats.pub(subject, data)
//	console.log(...), dump(...), log.debug|info|warn|error(format, ...)
func bind(ctx context.Context, vm *goja.Runtime, env *sandbox.Env) error {
	binders := []func(context.Context, *goja.Runtime, *sandbox.Env) error{
		bindAjax,
		bindHelpers,
		bindNats,
		bindConsole,
		bindLogger,
	}
	for _, b := range binders {
		if err := b(ctx, vm, env); err != nil {
			return err
		}
	}
	return nil
}

func bindAjax(ctx context.Context, vm *goja.Runtime, env *sandbox.Env) error {
	obj := vm.NewObject()
	_ = obj.Set("trace", env.Trace)
	_ = obj.Set("q", func(c goja.FunctionCall) goja.Value {
		if len(c.Arguments) < 2 {
			return goja.Null()
		}
		method, url := c.Arguments[0].String(), c.Arguments[1].String()
		if method == "" || url == "" {
			return goja.Null()
		}

		var (
			payload  any
			mode     string
			callback goja.Callable
		)
		for i, arg := range c.Arguments[2:] {
			if fn, ok := goja.AssertFunction(arg); ok {
				callback = fn
				break
			}
			switch i {
			case 0:
				payload = arg.Export()
			case 1:
				mode = arg.String()
			}
		}

		e := *env
		e.Trace = obj.Get("trace").ToBoolean()
		res, _ := e.Request(ctx, method, url, payload, mode)
		out := vm.ToValue(res.Map())
		if callback != nil {
			if _, err := callback(goja.Undefined(), out, vm.ToValue(res.Code)); err != nil {
				panic(vm.NewGoError(err))
			}
			return goja.Null()
		}
		return out
	})
	return vm.Set("$", obj)
}

func bindHelpers(_ context.Context, vm *goja.Runtime, env *sandbox.Env) error {
	quote := func(c goja.FunctionCall) goja.Value {
		return vm.ToValue(env.Quote(exportArg(c, 0)))
	}
	helpers := map[string]any{
		"quote": quote,
		"col":   quote,
		"now": func(goja.FunctionCall) goja.Value {
			return timestampObject(vm, env.Now())
		},
		"date": func(c goja.FunctionCall) goja.Value {
			return dateObject(vm, env.Date(c.Argument(0).String()))
		},
		"isSequence": func(c goja.FunctionCall) goja.Value {
			return vm.ToValue(batch.IsSequence(exportArg(c, 0)))
		},
		"isRecord": func(c goja.FunctionCall) goja.Value {
			return vm.ToValue(batch.IsRecord(exportArg(c, 0)))
		},
		"ID": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(uuid.NewString())
		},
	}
	for name, fn := range helpers {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func exportArg(c goja.FunctionCall, i int) any {
	v := c.Argument(i)
	if isNullish(v) {
		return nil
	}
	return v.Export()
}

func timestampObject(vm *goja.Runtime, ts sandbox.Timestamp) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("Add", func(c goja.FunctionCall) goja.Value {
		return timestampObject(vm, ts.Add(c.Argument(0).ToInteger()))
	})
	addDays := func(c goja.FunctionCall) goja.Value {
		return timestampObject(vm, ts.AddDays(int(c.Argument(0).ToInteger())))
	}
	_ = obj.Set("AddDays", addDays)
	_ = obj.Set("AddDate", addDays)
	_ = obj.Set("Date", func(goja.FunctionCall) goja.Value { return vm.ToValue(ts.Date()) })
	_ = obj.Set("Time", func(goja.FunctionCall) goja.Value { return vm.ToValue(ts.Time()) })
	_ = obj.Set("DateTime", func(goja.FunctionCall) goja.Value { return vm.ToValue(ts.DateTime()) })
	_ = obj.Set("Unix", func(goja.FunctionCall) goja.Value { return vm.ToValue(ts.Unix()) })
	_ = obj.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(ts.DateTime()) })
	return obj
}

func dateObject(vm *goja.Runtime, ds sandbox.DateString) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("Date", func(goja.FunctionCall) goja.Value { return vm.ToValue(ds.Date()) })
	_ = obj.Set("Time", func(goja.FunctionCall) goja.Value { return vm.ToValue(ds.Time()) })
	_ = obj.Set("DateTime", func(goja.FunctionCall) goja.Value { return vm.ToValue(ds.DateTime()) })
	_ = obj.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(ds.DateTime()) })
	return obj
}

func bindNats(_ context.Context, vm *goja.Runtime, env *sandbox.Env) error {
	obj := vm.NewObject()
	_ = obj.Set("name", env.Job)
	_ = obj.Set("subject", env.Subject)
	pub := func(c goja.FunctionCall) goja.Value {
		var subject string
		var data goja.Value
		switch len(c.Arguments) {
		case 1:
			data = c.Arguments[0]
		case 2:
			subject, data = c.Arguments[0].String(), c.Arguments[1]
		default:
			return goja.Null()
		}
		payload, err := payloadBytes(data)
		if err == nil {
			err = env.Publish(subject, payload)
		}
		if err != nil {
			return vm.ToValue(err.Error())
		}
		return vm.ToValue(0)
	}
	_ = obj.Set("pub", pub)
	_ = obj.Set("publish", pub)
	return vm.Set("nats", obj)
}

func payloadBytes(v goja.Value) ([]byte, error) {
	switch x := v.Export().(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(x), nil
	default:
		return jsoniter.Marshal(x)
	}
}

func exportAll(args []goja.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Export()
	}
	return out
}

func bindConsole(_ context.Context, vm *goja.Runtime, env *sandbox.Env) error {
	logger := env.Log()
	obj := vm.NewObject()
	_ = obj.Set("log", func(c goja.FunctionCall) goja.Value {
		logger.Info("console.log", "args", exportAll(c.Arguments))
		return goja.Undefined()
	})
	if err := vm.Set("console", obj); err != nil {
		return err
	}
	return vm.Set("dump", func(c goja.FunctionCall) goja.Value {
		logger.Info("dump", "values", exportAll(c.Arguments))
		return goja.Undefined()
	})
}

func bindLogger(_ context.Context, vm *goja.Runtime, env *sandbox.Env) error {
	logger := env.Log()
	obj := vm.NewObject()
	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, level := range levels {
		_ = obj.Set(name, func(c goja.FunctionCall) goja.Value {
			if len(c.Arguments) == 0 {
				return goja.Undefined()
			}
			msg := c.Arguments[0].String()
			if args := exportAll(c.Arguments[1:]); len(args) > 0 {
				msg = fmt.Sprintf(msg, args...)
			}
			logger.Log(context.Background(), level, msg, "source", "script")
			return goja.Undefined()
		})
	}
	return vm.Set("log", obj)
}
