package rig

import (
	"context"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// Optional wraps a resource lookup that is allowed to miss. An Invoker
// parameter of type Optional[T] resolves T optionally instead of failing
// the whole call when T is unavailable (§4.5).
type Optional[T any] struct {
	Value T
	Found bool
}

// optionalResource lets Invoker.Call recognize an Optional[T] parameter
// without knowing T ahead of time — every instantiation of Optional[T]
// satisfies this non-generic interface via its value-receiver methods.
type optionalResource interface {
	resourceType() reflect.Type
	resolved(val any, found bool) any
}

func (o Optional[T]) resourceType() reflect.Type { return typeOf[T]() }

func (o Optional[T]) resolved(val any, found bool) any {
	if !found {
		return Optional[T]{}
	}
	return Optional[T]{Value: val.(T), Found: true}
}

// Resource is a marker for documentation and for code translated directly
// from a caller that expected a default-argument-style injection point.
// Go has neither default arguments nor runtime parameter-name reflection,
// so there is no way to make this actually supply a value: calling it
// always panics, telling the caller to declare a plain typed parameter on
// a function wrapped with Inject instead (§4.5 — the idiomatic
// replacement for the original's mutable-default-argument trick).
func Resource[T any](name ...string) T {
	panic(ErrUninjectedResource)
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// InjectOption customizes a single Invoker.
type InjectOption func(*Invoker)

// Named overrides the resource name used to resolve the parameter at the
// given zero-based index, for callables where DefaultName is wrong. Go
// cannot recover a function's parameter names at runtime the way the
// original inspects keyword arguments, so an index is the only available
// handle (§4.5).
func Named(index int, name string) InjectOption {
	return func(inv *Invoker) { inv.names[index] = name }
}

// Invoker wraps a function so every parameter other than context.Context
// is resolved from the Context reachable through the call-time
// context.Context, by parameter type (§4.5).
type Invoker struct {
	fn     reflect.Value
	fnType reflect.Type
	names  map[int]string
	warned sync.Once
}

// Inject wraps fn, which must be a function value. Every parameter is
// either context.Context (bound to Invoker.Call's argument) or a resource
// type resolved against the current Context; an Optional[T] parameter
// resolves T optionally.
func Inject(fn any, opts ...InjectOption) *Invoker {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic("rig.Inject: argument must be a function")
	}
	inv := &Invoker{fn: v, fnType: v.Type(), names: make(map[int]string)}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Call resolves every parameter and invokes the wrapped function. The
// returned slice holds every non-error return value in order; a trailing
// error return is split out and returned as the second value instead.
func (inv *Invoker) Call(ctx context.Context) ([]any, error) {
	numIn := inv.fnType.NumIn()
	args := make([]reflect.Value, numIn)
	resourceParams := 0

	var handle ContextHandle
	for i := 0; i < numIn; i++ {
		paramType := inv.fnType.In(i)
		if paramType == ctxType {
			args[i] = reflect.ValueOf(ctx)
			continue
		}
		resourceParams++
		if handle == nil {
			handle = CurrentContext(ctx)
			if handle == nil {
				return nil, ErrNoCurrentContext
			}
		}
		name := inv.names[i]
		if name == "" {
			name = DefaultName
		}
		// Go has no async/await distinction — every Inject-wrapped function
		// is "synchronous" in the spec's sense, so resolution always uses
		// the non-waiting lookup (§4.5: "if the wrapped function is
		// synchronous, resolution uses the non-waiting lookup"). A missing
		// required resource fails the call immediately instead of blocking
		// Invoker.Call forever on a caller-supplied context with no
		// deadline.
		zero := reflect.Zero(paramType).Interface()
		if opt, ok := zero.(optionalResource); ok {
			val, err := handle.GetResourceNoWait(opt.resourceType(), name, true)
			if err != nil {
				return nil, err
			}
			args[i] = reflect.ValueOf(opt.resolved(val, val != nil)).Convert(paramType)
			continue
		}
		val, err := handle.GetResourceNoWait(paramType, name, false)
		if err != nil {
			return nil, err
		}
		args[i] = reflect.ValueOf(val)
	}

	if resourceParams == 0 {
		inv.warned.Do(func() {
			logger := contextLogger(ctx)
			logger.Warn().Msg("rig.Inject wrapped a function with no resource parameters to resolve")
		})
	}

	out := inv.fn.Call(args)
	if n := len(out); n > 0 && out[n-1].Type() == errType {
		var callErr error
		if !out[n-1].IsNil() {
			callErr = out[n-1].Interface().(error)
		}
		results := make([]any, n-1)
		for i := 0; i < n-1; i++ {
			results[i] = out[i].Interface()
		}
		return results, callErr
	}
	results := make([]any, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results, nil
}

func contextLogger(ctx context.Context) zerolog.Logger {
	if handle := CurrentContext(ctx); handle != nil {
		return handle.Underlying().logger
	}
	return zerolog.Nop()
}
