package rig

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ctxHandleKey is the private key a Context (or proxy) stores itself under
// inside the standard library context.Context chain. This is how "the
// current-context stack" (§5) is realized in Go: instead of a goroutine-
// local stack, nesting is expressed by threading the already goroutine-
// safe, explicit-passing stdlib context chain — the direct analogue of
// the teacher's BaseContextKey/GetBaseContext pattern.
type ctxHandleKey struct{}

// ContextHandle is whatever CurrentContext resolves to: either the real
// *Context doing the storage, or a componentContextProxy attributing
// operations to a node in the component tree while delegating the actual
// work to the nearest non-proxy ancestor (§4.4).
type ContextHandle interface {
	AddResource(value any, opts ...ResourceOption) error
	AddResourceFactory(factory FactoryFunc, types []reflect.Type, opts ...FactoryOption) error
	AddTeardownCallback(cb TeardownFunc, passException bool) error
	GetResource(ctx context.Context, t reflect.Type, name string, optional bool) (any, error)
	GetResourceNoWait(t reflect.Type, name string, optional bool) (any, error)
	GetResources(t reflect.Type) map[string]any
	GetStaticResources(t reflect.Type) []any
	Path() string
	Underlying() *Context
}

// CurrentContext recovers the ContextHandle stored in ctx, or nil if none
// was ever installed (e.g. a bare context.Background()).
func CurrentContext(ctx context.Context) ContextHandle {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(ctxHandleKey{}).(ContextHandle)
	return h
}

type contextState int32

const (
	stateOpen contextState = iota
	stateClosing
	stateClosed
)

type teardownEntry struct {
	callback      TeardownFunc
	passException bool
}

type factoryResult struct {
	value any
	err   error
}

// Context is the hierarchical, typed-resource container described in
// §3/§4.1. It embeds context.Context so it can be passed anywhere a
// stdlib context is expected, with Done/Deadline/Err passing through to
// whatever base context it was built from — exactly like the teacher's
// Request.
type Context struct {
	context.Context

	id     string
	path   string
	parent *Context
	logger zerolog.Logger

	mu        sync.Mutex
	resources map[resourceKey]*ResourceEntry
	factories map[resourceKey]*FactoryEntry
	inflight  map[resourceKey]chan factoryResult
	teardowns []teardownEntry
	state     contextState

	added *Signal[ResourceAddedEvent]
}

// NewRootContext creates the top-level Context of a run. base may be nil,
// in which case context.Background() is used.
func NewRootContext(base context.Context, logger zerolog.Logger) *Context {
	if base == nil {
		base = context.Background()
	}
	c := &Context{
		id:        uuid.NewString(),
		logger:    logger,
		resources: make(map[resourceKey]*ResourceEntry),
		factories: make(map[resourceKey]*FactoryEntry),
	}
	c.added = NewSignal[ResourceAddedEvent](overflowHandler(logger, "resource_added"))
	c.Context = context.WithValue(base, ctxHandleKey{}, ContextHandle(c))
	return c
}

// NewChild creates a Context whose parent is c — the only way a parent
// gets assigned (§4.1: "no other parent assignment is allowed").
func (c *Context) NewChild() *Context {
	child := &Context{
		id:        uuid.NewString(),
		path:      c.path,
		parent:    c,
		logger:    c.logger,
		resources: make(map[resourceKey]*ResourceEntry),
		factories: make(map[resourceKey]*FactoryEntry),
	}
	child.added = NewSignal[ResourceAddedEvent](overflowHandler(child.logger, "resource_added"))
	child.Context = context.WithValue(c.Context, ctxHandleKey{}, ContextHandle(child))
	return child
}

// overflowHandler backs every Context's resource_added signal. A full
// subscriber buffer here means a waiter fell more than 200 registrations
// behind in a single process — not a transient condition, per §4.6/§6 —
// so it is fatal rather than merely logged and dropped.
func overflowHandler(logger zerolog.Logger, signalName string) func(ResourceAddedEvent, int) {
	return func(event ResourceAddedEvent, subscriberID int) {
		logger.Fatal().
			Str("signal", signalName).
			Int("subscriber", subscriberID).
			Str("resourceName", event.ResourceName).
			Msg("signal subscriber buffer overflowed")
	}
}

// Path returns the dotted component path this Context is attributed to, or
// "" at the root / for contexts not created under an Orchestrator.
func (c *Context) Path() string { return c.path }

// Underlying returns c itself — it lets ContextHandle callers holding a
// componentContextProxy reach the real storage Context.
func (c *Context) Underlying() *Context { return c }

// chain returns self then every ancestor up to the root (§3:
// context_chain). It is a plain slice rather than a lazy iterator — Go has
// no cheap built-in generator primitive predating range-over-func, and
// chains in this framework are always shallow: one entry per nesting level
// of a component tree.
func (c *Context) chain() []*Context {
	chain := make([]*Context, 0, 4)
	for cur := c; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	return chain
}

func (c *Context) chainSignals() []*Signal[ResourceAddedEvent] {
	chain := c.chain()
	signals := make([]*Signal[ResourceAddedEvent], len(chain))
	for i, node := range chain {
		signals[i] = node.added
	}
	return signals
}

func (c *Context) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateOpen
}

// AddResource registers value under every declared type (defaulting to
// value's own concrete runtime type) and name (defaulting to DefaultName).
// It fails with ErrResourceConflict if any (type, name) key already exists
// in this Context (§4.1, §3 invariant 3).
func (c *Context) AddResource(value any, opts ...ResourceOption) error {
	if c.closed() {
		return ErrContextClosed
	}
	if value == nil {
		return ErrNilValue
	}
	o := resourceOptions{name: DefaultName}
	for _, opt := range opts {
		opt(&o)
	}
	if !validName(o.name) {
		return ErrInvalidName
	}
	types := o.types
	if len(types) == 0 {
		types = []reflect.Type{reflect.TypeOf(value)}
	}

	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return ErrContextClosed
	}
	for _, t := range types {
		key := resourceKey{typ: t, name: o.name}
		if _, ok := c.resources[key]; ok {
			c.mu.Unlock()
			return newResourceConflictError(typeDisplayName(t), o.name)
		}
		if _, ok := c.factories[key]; ok {
			c.mu.Unlock()
			return newResourceConflictError(typeDisplayName(t), o.name)
		}
	}
	entry := &ResourceEntry{Value: value, Types: types, Name: o.name, Description: o.description}
	for _, t := range types {
		c.resources[resourceKey{typ: t, name: o.name}] = entry
	}
	c.mu.Unlock()

	c.logger.Debug().Str("path", c.path).Str("name", o.name).Msg("resource added")
	c.added.Publish(ResourceAddedEvent{ResourceTypes: types, ResourceName: o.name, IsFactory: false})
	return nil
}

// AddResourceFactory registers a lazy producer under every type in types.
// Prefer the generic AddFactoryT[T] helper, which infers types from T and
// wraps factory in a FactoryFunc.
func (c *Context) AddResourceFactory(factory FactoryFunc, types []reflect.Type, opts ...FactoryOption) error {
	if c.closed() {
		return ErrContextClosed
	}
	if factory == nil {
		return ErrNilValue
	}
	o := factoryOptions{name: DefaultName}
	for _, opt := range opts {
		opt(&o)
	}
	if !validName(o.name) {
		return ErrInvalidName
	}
	if len(types) == 0 {
		return errNoFactoryTypes
	}

	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return ErrContextClosed
	}
	for _, t := range types {
		key := resourceKey{typ: t, name: o.name}
		if _, ok := c.resources[key]; ok {
			c.mu.Unlock()
			return newResourceConflictError(typeDisplayName(t), o.name)
		}
		if _, ok := c.factories[key]; ok {
			c.mu.Unlock()
			return newResourceConflictError(typeDisplayName(t), o.name)
		}
	}
	entry := &FactoryEntry{Factory: factory, Types: types, Name: o.name, Description: o.description}
	for _, t := range types {
		c.factories[resourceKey{typ: t, name: o.name}] = entry
	}
	c.mu.Unlock()

	c.logger.Debug().Str("path", c.path).Str("name", o.name).Msg("resource factory added")
	c.added.Publish(ResourceAddedEvent{ResourceTypes: types, ResourceName: o.name, IsFactory: true})
	return nil
}

// AddTeardownCallback appends cb to the teardown list, run in reverse
// order by Close (§4.1, §3 invariant 5).
func (c *Context) AddTeardownCallback(cb TeardownFunc, passException bool) error {
	if cb == nil {
		return ErrNilValue
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return ErrContextClosed
	}
	c.teardowns = append(c.teardowns, teardownEntry{callback: cb, passException: passException})
	return nil
}

// tryResolve implements the non-waiting part of resolution (§4.1 steps
// 1-2): a chain-wide search for a materialized resource, then a
// chain-wide search for a factory to materialize in c.
func (c *Context) tryResolve(t reflect.Type, name string) (any, bool, error) {
	key := resourceKey{typ: t, name: name}
	chain := c.chain()
	for _, node := range chain {
		node.mu.Lock()
		entry, ok := node.resources[key]
		node.mu.Unlock()
		if ok {
			return entry.Value, true, nil
		}
	}
	for _, node := range chain {
		node.mu.Lock()
		fEntry, ok := node.factories[key]
		node.mu.Unlock()
		if ok {
			val, err := c.materializeFactory(key, fEntry)
			if err != nil {
				return nil, false, err
			}
			return val, true, nil
		}
	}
	return nil, false, nil
}

// materializeFactory invokes fEntry at most once per (c, key) — concurrent
// resolvers of the same key in the same Context share one invocation
// (§5: "at most one factory invocation per Context per key").
func (c *Context) materializeFactory(key resourceKey, fEntry *FactoryEntry) (any, error) {
	c.mu.Lock()
	if entry, ok := c.resources[key]; ok {
		c.mu.Unlock()
		return entry.Value, nil
	}
	if c.inflight == nil {
		c.inflight = make(map[resourceKey]chan factoryResult)
	}
	if ch, inflight := c.inflight[key]; inflight {
		c.mu.Unlock()
		res := <-ch
		return res.value, res.err
	}
	ch := make(chan factoryResult, 1)
	c.inflight[key] = ch
	c.mu.Unlock()

	val, err := fEntry.Factory(c)

	c.mu.Lock()
	delete(c.inflight, key)
	var result factoryResult
	if err == nil {
		entry := &ResourceEntry{Value: val, Types: fEntry.Types, Name: fEntry.Name, Description: fEntry.Description}
		for _, t := range fEntry.Types {
			c.resources[resourceKey{typ: t, name: fEntry.Name}] = entry
		}
		result.value = val
	} else {
		result.err = err
	}
	c.mu.Unlock()
	ch <- result
	close(ch)

	if err == nil {
		c.logger.Debug().Str("path", c.path).Str("name", fEntry.Name).Msg("resource factory materialized")
		c.added.Publish(ResourceAddedEvent{ResourceTypes: fEntry.Types, ResourceName: fEntry.Name, IsFactory: false})
	}
	return val, err
}

// GetResource resolves (t, name), blocking until it becomes available if
// necessary (§4.1 step 4). ctx governs cancellation of the wait.
func (c *Context) GetResource(ctx context.Context, t reflect.Type, name string, optional bool) (any, error) {
	if c.closed() {
		return nil, ErrContextClosed
	}
	for {
		val, found, err := c.tryResolve(t, name)
		if err != nil {
			return nil, err
		}
		if found {
			return val, nil
		}
		if optional {
			return nil, nil
		}
		_, waitErr := WaitEvent(ctx, func(e ResourceAddedEvent) bool { return e.matches(t, name) }, c.chainSignals()...)
		if waitErr != nil {
			return nil, waitErr
		}
	}
}

// GetResourceNoWait resolves (t, name) without blocking; a miss fails
// immediately with ErrResourceNotFound unless optional is set (§4.1).
func (c *Context) GetResourceNoWait(t reflect.Type, name string, optional bool) (any, error) {
	if c.closed() {
		return nil, ErrContextClosed
	}
	val, found, err := c.tryResolve(t, name)
	if err != nil {
		return nil, err
	}
	if found {
		return val, nil
	}
	if optional {
		return nil, nil
	}
	return nil, newResourceNotFoundError(t, name)
}

// GetResources returns every currently materialized value of type t across
// the chain, keyed by name. Factories are never forced (§4.1).
func (c *Context) GetResources(t reflect.Type) map[string]any {
	result := make(map[string]any)
	for _, node := range c.chain() {
		node.mu.Lock()
		for key, entry := range node.resources {
			if key.typ != t {
				continue
			}
			if _, exists := result[key.name]; !exists {
				result[key.name] = entry.Value
			}
		}
		node.mu.Unlock()
	}
	return result
}

// GetStaticResources returns the values GetResources would return, without
// their names.
func (c *Context) GetStaticResources(t reflect.Type) []any {
	byName := c.GetResources(t)
	values := make([]any, 0, len(byName))
	for _, v := range byName {
		values = append(values, v)
	}
	return values
}

// Close runs every teardown callback in reverse registration order
// (§3 invariants 5-6, §8 properties 6-7). Each callback's error is logged
// as it happens and also collected into the returned aggregate.
func (c *Context) Close(exception error) error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return ErrContextClosed
	}
	c.state = stateClosing
	callbacks := make([]teardownEntry, len(c.teardowns))
	copy(callbacks, c.teardowns)
	c.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		entry := callbacks[i]
		var arg error
		if entry.passException {
			arg = exception
		}
		if err := entry.callback(arg); err != nil {
			c.logger.Error().Str("path", c.path).Err(err).Msg("teardown callback failed")
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	return aggregate(errs)
}

// ContextSnapshot is a small diagnostic view of a Context, available for ad
// hoc debugging — the Go analogue of the original implementation's Context
// repr. The orchestrator's timeout dump does not use it.
type ContextSnapshot struct {
	Path      string
	Resources []string
	Factories []string
	State     string
	Depth     int
}

// Describe returns a snapshot of c's current registrations, including its
// depth (the number of Contexts in its chain: c itself plus every ancestor
// up to the root, so a root has depth 1).
func (c *Context) Describe() ContextSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := ContextSnapshot{Path: c.path, Depth: len(c.chain())}
	switch c.state {
	case stateOpen:
		d.State = "open"
	case stateClosing:
		d.State = "closing"
	default:
		d.State = "closed"
	}
	for key := range c.resources {
		d.Resources = append(d.Resources, describeResource(key, false))
	}
	for key := range c.factories {
		d.Factories = append(d.Factories, describeResource(key, true))
	}
	return d
}
