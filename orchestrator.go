package rig

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// defaultStartupTimeout is used when StartComponent is called with
// timeout <= 0 (§4.3: "timeout=20s").
const defaultStartupTimeout = 20 * time.Second

// StartupStatus is the lifecycle stage of one component node during
// Orchestrator.StartComponent (§3, §4.3).
type StartupStatus string

const (
	StatusCreating         StartupStatus = "creating"
	StatusCreated          StartupStatus = "created"
	StatusPreparing        StartupStatus = "preparing"
	StatusStartingChildren StartupStatus = "starting children"
	StatusStarting         StartupStatus = "starting"
	StatusStarted          StartupStatus = "started"
)

// StartupEvent reports one status transition of one component node
// (§3: StartupEvent).
type StartupEvent struct {
	ComponentClass string
	Path           string
	Status         StartupStatus
}

// componentNode is the orchestrator's internal build-phase record for one
// node of the component tree (§3: ComponentNode).
type componentNode struct {
	path      string
	alias     string
	className string
	component Component
	children  []*componentNode
}

// Orchestrator builds and starts a component tree with supervision
// (§4.3). The zero value is usable; Resolver may be set to allow
// string-named component references.
type Orchestrator struct {
	Logger   zerolog.Logger
	Resolver ComponentResolver
}

// NewOrchestrator creates an Orchestrator with the given logger and an
// optional resolver (nil disables string component references).
func NewOrchestrator(logger zerolog.Logger, resolver ComponentResolver) *Orchestrator {
	return &Orchestrator{Logger: logger, Resolver: resolver}
}

// StartComponent implements §4.3 end to end: build phase, start phase
// (prepare -> children concurrently -> start), supervision with a bounded
// event stream and timeout, and error aggregation.
func (o *Orchestrator) StartComponent(ctx context.Context, root ComponentRef, config map[string]any, timeout time.Duration) error {
	handle := CurrentContext(ctx)
	if handle == nil {
		return ErrNoCurrentContext
	}
	realCtx := handle.Underlying()
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}

	events := NewSignal[StartupEvent](o.fatalOverflow())
	subID, subCh := events.Subscribe(defaultSupervisorBuffer)

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	totalCh := make(chan int, 1)
	done := make(chan error, 1)
	go o.supervise(timeoutCtx, timeout, subID, subCh, events, totalCh, done)

	rootNode, err := o.buildTree(root, config, "", "", events)
	if err != nil {
		cancel()
		<-done
		return err
	}
	totalCh <- countNodes(rootNode)

	startErr := o.startTree(timeoutCtx, rootNode, realCtx, events)
	cancel()
	supervisorErr := <-done

	// A genuine TimeoutError takes priority: startErr in that case is just
	// whatever cancellation-triggered failure bubbled out of the in-flight
	// start (§4.3 step 5 surfaces the timeout, not a derived cause).
	if supervisorErr != nil {
		return supervisorErr
	}
	return startErr
}

func (o *Orchestrator) fatalOverflow() func(StartupEvent, int) {
	return func(event StartupEvent, subscriberID int) {
		o.Logger.Fatal().
			Int("subscriber", subscriberID).
			Str("path", event.Path).
			Msg("startup event stream overflowed")
	}
}

// buildNode constructs the Component described by ref (§4.3 step 2:
// "_init_component").
func (o *Orchestrator) buildNode(ref ComponentRef, config map[string]any) (Component, error) {
	switch v := ref.(type) {
	case Component:
		return v, nil
	case ComponentConstructor:
		return v(config)
	case func(map[string]any) (Component, error):
		return v(config)
	case string:
		if o.Resolver == nil {
			return nil, fmt.Errorf("rig: component name %q requires an Orchestrator.Resolver", v)
		}
		ctor, err := o.Resolver.Resolve(v)
		if err != nil {
			return nil, err
		}
		return ctor(config)
	default:
		return nil, fmt.Errorf("rig: unsupported component reference type %T", ref)
	}
}

func componentRefName(ref ComponentRef) string {
	switch v := ref.(type) {
	case string:
		return v
	case Component:
		return componentClassName(v)
	default:
		return fmt.Sprintf("%T", ref)
	}
}

func componentClassName(comp Component) string {
	t := reflect.TypeOf(comp)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// buildTree recursively instantiates root and its declared children,
// merging each child's hard-coded config with its config["components"]
// override per §6's merge_config rules (§4.3 step 2).
func (o *Orchestrator) buildTree(ref ComponentRef, config map[string]any, path, alias string, events *Signal[StartupEvent]) (*componentNode, error) {
	refName := componentRefName(ref)
	events.Publish(StartupEvent{ComponentClass: refName, Path: path, Status: StatusCreating})

	comp, err := o.buildNode(ref, config)
	if err != nil {
		return nil, newComponentStartError(PhaseCreating, path, refName, err)
	}
	className := componentClassName(comp)
	events.Publish(StartupEvent{ComponentClass: className, Path: path, Status: StatusCreated})

	node := &componentNode{path: path, alias: alias, className: className, component: comp}

	var childOverrides map[string]any
	if raw, ok := config["components"]; ok && raw != nil {
		childOverrides, _ = raw.(map[string]any)
	}

	if declarer, ok := comp.(childDeclarer); ok {
		for _, decl := range declarer.Children() {
			childPath := decl.Alias
			if path != "" {
				childPath = path + "." + decl.Alias
			}
			childConfig := decl.Config
			if override, ok := childOverrides[decl.Alias]; ok {
				overrideMap, _ := override.(map[string]any)
				childConfig = MergeConfig(decl.Config, overrideMap)
			}
			childNode, err := o.buildTree(decl.Ref, childConfig, childPath, decl.Alias, events)
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, childNode)
		}
	}
	return node, nil
}

func countNodes(n *componentNode) int {
	total := 1
	for _, c := range n.children {
		total += countNodes(c)
	}
	return total
}

// startTree implements §4.3 step 3, recursing post-order-with-prepare:
// mark started, enter the proxy, Prepare, start children concurrently,
// Start, emit started.
func (o *Orchestrator) startTree(ctx context.Context, node *componentNode, realCtx *Context, events *Signal[StartupEvent]) error {
	if bc, ok := node.component.(interface{ markStarted() }); ok {
		bc.markStarted()
	}
	proxyCtx := withProxy(ctx, realCtx, node.path)

	if prep, ok := node.component.(Preparer); ok {
		events.Publish(StartupEvent{ComponentClass: node.className, Path: node.path, Status: StatusPreparing})
		if err := prep.Prepare(proxyCtx); err != nil {
			return newComponentStartError(PhasePreparing, node.path, node.className, err)
		}
	}

	if len(node.children) > 0 {
		events.Publish(StartupEvent{ComponentClass: node.className, Path: node.path, Status: StatusStartingChildren})
		var wg sync.WaitGroup
		var mu sync.Mutex
		var errs []error
		for _, child := range node.children {
			wg.Add(1)
			go func(child *componentNode) {
				defer wg.Done()
				if err := o.startTree(ctx, child, realCtx, events); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(child)
		}
		wg.Wait()
		if err := aggregate(errs); err != nil {
			return err
		}
	}

	if starter, ok := node.component.(Starter); ok {
		events.Publish(StartupEvent{ComponentClass: node.className, Path: node.path, Status: StatusStarting})
		if err := starter.Start(proxyCtx); err != nil {
			return newComponentStartError(PhaseStarting, node.path, node.className, err)
		}
	}

	events.Publish(StartupEvent{ComponentClass: node.className, Path: node.path, Status: StatusStarted})
	return nil
}

// supervise implements §4.3 step 4: track per-path status until either
// every node reaches "started" or the deadline elapses.
func (o *Orchestrator) supervise(ctx context.Context, timeout time.Duration, subID int, ch <-chan StartupEvent, events *Signal[StartupEvent], totalCh <-chan int, done chan<- error) {
	defer events.Unsubscribe(subID)
	statuses := make(map[string]StartupStatus)
	total := -1
	startedCount := 0
	for {
		select {
		case n := <-totalCh:
			total = n
			if startedCount >= total {
				done <- nil
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			statuses[ev.Path] = ev.Status
			if ev.Status == StatusStarted {
				startedCount++
			}
			if total >= 0 && startedCount >= total {
				done <- nil
				return
			}
		case <-ctx.Done():
			if ctx.Err() != context.DeadlineExceeded {
				// StartComponent cancels ctx once the start has returned;
				// a cancellation that is not the deadline is no timeout.
				done <- nil
				return
			}
			dump := dumpStatuses(statuses)
			o.Logger.Error().Str("dump", dump).Dur("timeout", timeout).Msg("component startup timed out")
			done <- &TimeoutError{
				Timeout:   timeout.String(),
				Pending:   pendingPaths(statuses),
				StackDump: bestEffortStackDump(),
			}
			return
		}
	}
}

func pendingPaths(statuses map[string]StartupStatus) []string {
	var pending []string
	for path, status := range statuses {
		if status != StatusStarted {
			pending = append(pending, fmt.Sprintf("%s (%s)", rootLabel(path), status))
		}
	}
	sort.Strings(pending)
	return pending
}

func rootLabel(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}

// dumpStatuses renders a hierarchical, indented status tree for the
// timeout log line (§7: "a structured tree (root, indented children) of
// current statuses").
func dumpStatuses(statuses map[string]StartupStatus) string {
	paths := make([]string, 0, len(statuses))
	for path := range statuses {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, path := range paths {
		depth := 0
		if path != "" {
			depth = strings.Count(path, ".") + 1
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(rootLabel(path))
		b.WriteString(": ")
		b.WriteString(string(statuses[path]))
		b.WriteString("\n")
	}
	return b.String()
}

// bestEffortStackDump captures every running goroutine's stack. Go has no
// way to extract a single suspended coroutine's frame the way the
// original inspects one async task, so the timeout report carries the
// full dump instead of a per-node summary (§9: "best-effort and
// optional").
func bestEffortStackDump() string {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	return string(buf[:n])
}
