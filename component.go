package rig

import (
	"context"
	"sync"
)

// Component is a marker interface satisfied by embedding BaseComponent. A
// component whose class overrides neither Prepare nor Start is a pure
// container (§4.2).
type Component interface {
	isComponent()
}

// Preparer is implemented by components with setup work that must run
// before their children start — typically registering resources the
// children will wait for (§4.2).
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Starter is implemented by components with setup work that runs after
// all children have started — typically consuming child-provided
// resources and exposing the node's own services (§4.2).
type Starter interface {
	Start(ctx context.Context) error
}

// ComponentRef identifies how to build a child component: an already
// constructed Component, a constructor func(config) (Component, error) —
// the Go-idiomatic replacement for "a component class to instantiate with
// config" — or a string name resolvable through a ComponentResolver
// (§6's plugin registry).
type ComponentRef any

// ComponentConstructor builds a Component from its merged configuration.
type ComponentConstructor func(config map[string]any) (Component, error)

// ComponentFactory is the result type of a plugin resolution (§6:
// "resolve(ref) ... returns a class") — an alias of ComponentConstructor
// so rig/plugin can name it the way the spec does without introducing a
// second, incompatible type.
type ComponentFactory = ComponentConstructor

// ComponentResolver resolves a component reference — a string name, or a
// ref that is already a class/constructor — to a constructor, implemented
// by rig/plugin.Container. Defined here (rather than accepting
// *plugin.Container directly) so this package never imports its own
// resolver subpackage. ref is typed any rather than string because §6's
// PluginContainer.resolve accepts either form ("if ref is already a
// component class, return it; if a string, ... look up").
type ComponentResolver interface {
	Resolve(ref ComponentRef) (ComponentConstructor, error)
}

// ChildDeclaration records one AddComponent call.
type ChildDeclaration struct {
	Alias  string
	Ref    ComponentRef
	Config map[string]any
}

// childDeclarer is satisfied by any component that embeds BaseComponent;
// the orchestrator's build phase uses it to discover hard-coded children.
type childDeclarer interface {
	Children() []ChildDeclaration
}

// BaseComponent gives a Component its AddComponent bookkeeping. Embed it
// by value in every component type, even ones with no children, to
// satisfy the Component interface (§4.2).
type BaseComponent struct {
	mu       sync.Mutex
	children []ChildDeclaration
	started  bool
}

func (b *BaseComponent) isComponent() {}

// AddComponent records a child declaration. type_/ref may be omitted
// (nil) when alias itself doubles as the resolvable type name, matching
// §4.2's "if type is omitted, alias doubles as the type name". Fails with
// ErrAlreadyStarted once the owning component's startup has begun, and
// ErrDuplicateAlias for a repeated alias.
func (b *BaseComponent) AddComponent(alias string, ref ComponentRef, config map[string]any) error {
	if !validName(alias) {
		return ErrInvalidName
	}
	if ref == nil {
		ref = alias
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	for _, c := range b.children {
		if c.Alias == alias {
			return ErrDuplicateAlias
		}
	}
	b.children = append(b.children, ChildDeclaration{Alias: alias, Ref: ref, Config: config})
	return nil
}

// Children returns a snapshot of the recorded child declarations, used by
// the orchestrator's build phase.
func (b *BaseComponent) Children() []ChildDeclaration {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ChildDeclaration, len(b.children))
	copy(out, b.children)
	return out
}

// markStarted freezes further AddComponent calls (§4.3 step 3a).
func (b *BaseComponent) markStarted() {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
}
