package rig

import (
	"context"
	"reflect"
)

// componentContextProxy is installed for the duration of one component
// node's Prepare / start-children / Start sequence (§4.4). It delegates
// every resource operation to the nearest non-proxy ancestor Context
// while logging with the owning node's path, so CurrentContext resolves
// to the proxy inside a running hook but every logical resource
// publication still lands on a single real Context.
type componentContextProxy struct {
	real *Context
	path string
}

func newComponentContextProxy(real *Context, path string) *componentContextProxy {
	return &componentContextProxy{real: real, path: path}
}

func (p *componentContextProxy) AddResource(value any, opts ...ResourceOption) error {
	return p.real.AddResource(value, opts...)
}

func (p *componentContextProxy) AddResourceFactory(factory FactoryFunc, types []reflect.Type, opts ...FactoryOption) error {
	return p.real.AddResourceFactory(factory, types, opts...)
}

func (p *componentContextProxy) AddTeardownCallback(cb TeardownFunc, passException bool) error {
	return p.real.AddTeardownCallback(cb, passException)
}

// GetResource delegates to the real Context, logging only the cases
// where the lookup actually has to wait — a hit on the first, non-waiting
// attempt is the common case and not worth a log line (§4.4: "on a
// get_resource miss that must wait, logs the wait and the resolution").
func (p *componentContextProxy) GetResource(ctx context.Context, t reflect.Type, name string, optional bool) (any, error) {
	val, found, err := p.real.tryResolve(t, name)
	if err != nil {
		return nil, err
	}
	if found {
		return val, nil
	}
	if optional {
		return nil, nil
	}
	p.real.logger.Debug().Str("path", p.path).Str("type", typeDisplayName(t)).Str("name", name).Msg("waiting for resource")
	val, err = p.real.GetResource(ctx, t, name, false)
	if err == nil {
		p.real.logger.Debug().Str("path", p.path).Str("type", typeDisplayName(t)).Str("name", name).Msg("resource resolved")
	}
	return val, err
}

func (p *componentContextProxy) GetResourceNoWait(t reflect.Type, name string, optional bool) (any, error) {
	return p.real.GetResourceNoWait(t, name, optional)
}

func (p *componentContextProxy) GetResources(t reflect.Type) map[string]any {
	return p.real.GetResources(t)
}

func (p *componentContextProxy) GetStaticResources(t reflect.Type) []any {
	return p.real.GetStaticResources(t)
}

func (p *componentContextProxy) Path() string { return p.path }

func (p *componentContextProxy) Underlying() *Context { return p.real }

// withProxy installs a componentContextProxy for path into ctx, so
// CurrentContext calls made from inside the node's Prepare/Start resolve
// to it instead of to real directly.
func withProxy(ctx context.Context, real *Context, path string) context.Context {
	return context.WithValue(ctx, ctxHandleKey{}, ContextHandle(newComponentContextProxy(real, path)))
}
