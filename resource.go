package rig

import (
	"fmt"
	"reflect"
)

// resourceKey identifies a published resource or factory: a concrete type
// paired with a name (§3, invariant 3).
type resourceKey struct {
	typ  reflect.Type
	name string
}

func typeDisplayName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// ResourceEntry is a materialized value stored in exactly one Context.
type ResourceEntry struct {
	Value       any
	Types       []reflect.Type
	Name        string
	Description string
	// teardownCallback is reserved for a future per-resource teardown hook.
	// §4.1's AddResource signature carries no parameter for one — resources
	// that need cleanup register it separately via AddTeardownCallback, so
	// this field is never populated by AddResource itself.
	teardownCallback TeardownFunc
}

// FactoryEntry is a lazy producer registered against one or more declared
// types. It memoizes per-Context: each Context that triggers it gets its
// own ResourceEntry (§3, invariant 4; §8 property 5).
type FactoryEntry struct {
	Factory     FactoryFunc
	Types       []reflect.Type
	Name        string
	Description string
}

// FactoryFunc produces a resource value the first time it is resolved in a
// given Context.
type FactoryFunc func(ctx *Context) (any, error)

// TeardownFunc is a callback registered with AddTeardownCallback. When
// passException is true it receives the exception Close() was invoked
// with (or nil).
type TeardownFunc func(exception error) error

// ResourceAddedEvent is published on a Context's resource_added signal
// after a value or factory registration succeeds.
type ResourceAddedEvent struct {
	ResourceTypes []reflect.Type
	ResourceName  string
	IsFactory     bool
}

func (e ResourceAddedEvent) matches(t reflect.Type, name string) bool {
	if e.ResourceName != name {
		return false
	}
	for _, rt := range e.ResourceTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// resourceOptions configures AddResource.
type resourceOptions struct {
	name        string
	types       []reflect.Type
	description string
}

// ResourceOption customizes a single AddResource call.
type ResourceOption func(*resourceOptions)

// WithResourceName sets an explicit name, overriding DefaultName.
func WithResourceName(name string) ResourceOption {
	return func(o *resourceOptions) { o.name = name }
}

// WithResourceTypes declares the set of types the value is published
// under, overriding the value's own concrete runtime type.
func WithResourceTypes(types ...reflect.Type) ResourceOption {
	return func(o *resourceOptions) { o.types = types }
}

// WithResourceDescription attaches a human-readable description, surfaced
// by diagnostics.
func WithResourceDescription(description string) ResourceOption {
	return func(o *resourceOptions) { o.description = description }
}

// factoryOptions configures AddResourceFactory. The declared types
// themselves are a positional parameter of AddResourceFactory, not an
// option here — unlike AddResource's value, a FactoryFunc's signature has
// already erased its return type to any, so there is no runtime type to
// default to (Design Notes, open question (a): Go has no union/optional
// types to expand, so the caller — typically the generic AddFactoryT[T]
// helper — states the concrete arms explicitly).
type factoryOptions struct {
	name        string
	description string
}

// FactoryOption customizes a single AddResourceFactory call.
type FactoryOption func(*factoryOptions)

// WithFactoryName sets an explicit name, overriding DefaultName.
func WithFactoryName(name string) FactoryOption {
	return func(o *factoryOptions) { o.name = name }
}

// WithFactoryDescription attaches a human-readable description.
func WithFactoryDescription(description string) FactoryOption {
	return func(o *factoryOptions) { o.description = description }
}

// describeResource is used by diagnostics (timeout dumps, Context.Describe).
func describeResource(key resourceKey, isFactory bool) string {
	kind := "value"
	if isFactory {
		kind = "factory"
	}
	return fmt.Sprintf("%s:%s(%s)", key.name, typeDisplayName(key.typ), kind)
}
