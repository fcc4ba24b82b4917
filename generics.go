package rig

import (
	"context"
	"reflect"
)

// typeOf returns the reflect.Type for T, including interface types (unlike
// reflect.TypeOf(zero), which cannot observe an interface's static type
// from a nil value).
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// GetResourceT resolves a required resource of type T from the handle
// reachable through ctx, blocking until it is published if necessary. It
// is the typed counterpart of ContextHandle.GetResource (§4.1).
func GetResourceT[T any](ctx context.Context, name string) (T, error) {
	var zero T
	handle := CurrentContext(ctx)
	if handle == nil {
		return zero, ErrNoCurrentContext
	}
	val, err := handle.GetResource(ctx, typeOf[T](), name, false)
	if err != nil {
		return zero, err
	}
	return val.(T), nil
}

// GetOptionalResourceT resolves an optional resource of type T, returning
// found=false instead of ErrResourceNotFound when it is not registered.
func GetOptionalResourceT[T any](ctx context.Context, name string) (Optional[T], error) {
	var opt Optional[T]
	handle := CurrentContext(ctx)
	if handle == nil {
		return opt, ErrNoCurrentContext
	}
	val, err := handle.GetResource(ctx, typeOf[T](), name, true)
	if err != nil {
		return opt, err
	}
	if val == nil {
		return opt, nil
	}
	opt.Value = val.(T)
	opt.Found = true
	return opt, nil
}

// AddResourceT publishes value of type T under name in the Context
// reachable through ctx.
func AddResourceT[T any](ctx context.Context, value T, name string, description string) error {
	handle := CurrentContext(ctx)
	if handle == nil {
		return ErrNoCurrentContext
	}
	opts := []ResourceOption{WithResourceName(name), WithResourceTypes(typeOf[T]())}
	if description != "" {
		opts = append(opts, WithResourceDescription(description))
	}
	return handle.AddResource(value, opts...)
}

// AddFactoryT registers factory as the lazy producer of a T, under name,
// in the Context reachable through ctx.
func AddFactoryT[T any](ctx context.Context, name string, description string, factory func(ctx *Context) (T, error)) error {
	handle := CurrentContext(ctx)
	if handle == nil {
		return ErrNoCurrentContext
	}
	wrapped := func(c *Context) (any, error) { return factory(c) }
	opts := []FactoryOption{WithFactoryName(name)}
	if description != "" {
		opts = append(opts, WithFactoryDescription(description))
	}
	return handle.AddResourceFactory(wrapped, []reflect.Type{typeOf[T]()}, opts...)
}
