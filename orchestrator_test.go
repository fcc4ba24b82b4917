package rig_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/weisbartb/tsbuffer"

	"github.com/go-rig/rig"
)

func newTestOrchestrator(t *testing.T) (*rig.Orchestrator, *rig.Context) {
	t.Helper()
	buf := tsbuffer.New()
	logger := zerolog.New(buf)
	root := rig.NewRootContext(context.Background(), logger)
	return rig.NewOrchestrator(logger, nil), root
}

// linearRoot/linearChild implement scenario S1: root publishes a resource
// in its own Prepare, before children are started; a child's Start waits
// on it and observes the value. A parent can only ever supply a resource
// to its own child this way — Prepare always runs before children start,
// while Start always runs after they finish (§4.2, §4.3 step 3) — so
// Start is the wrong hook here: the parent's own startTree call would
// otherwise block on the same wg.Wait() its child is blocked behind,
// deadlocking the whole node.
type linearRoot struct {
	rig.BaseComponent
}

func (r *linearRoot) Prepare(ctx context.Context) error {
	handle := rig.CurrentContext(ctx)
	return handle.AddResource(42, rig.WithResourceName("n"))
}

type linearChild struct {
	rig.BaseComponent
	Got int
}

func (c *linearChild) Start(ctx context.Context) error {
	v, err := rig.GetResourceT[int](ctx, "n")
	if err != nil {
		return err
	}
	c.Got = v
	return nil
}

func TestLinearDependency(t *testing.T) {
	orch, root := newTestOrchestrator(t)
	child := &linearChild{}
	parent := &linearRoot{}
	require.NoError(t, parent.AddComponent("b", child, nil))

	err := orch.StartComponent(root, parent, nil, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, child.Got)
}

// producerSibling / consumerSibling implement scenario S2: two siblings
// under one root, where the consumer's Start blocks on a resource the
// producer's Start publishes after a short delay. The orchestrator must
// run them truly concurrently for this to complete within the timeout.
type producerSibling struct {
	rig.BaseComponent
}

func (p *producerSibling) Start(ctx context.Context) error {
	time.Sleep(20 * time.Millisecond)
	handle := rig.CurrentContext(ctx)
	return handle.AddResource("hello", rig.WithResourceName("greeting"))
}

type consumerSibling struct {
	rig.BaseComponent
	Got string
}

func (c *consumerSibling) Start(ctx context.Context) error {
	v, err := rig.GetResourceT[string](ctx, "greeting")
	if err != nil {
		return err
	}
	c.Got = v
	return nil
}

type siblingRoot struct {
	rig.BaseComponent
}

func TestSiblingDependency(t *testing.T) {
	orch, root := newTestOrchestrator(t)
	producer := &producerSibling{}
	consumer := &consumerSibling{}
	parent := &siblingRoot{}
	require.NoError(t, parent.AddComponent("producer", producer, nil))
	require.NoError(t, parent.AddComponent("consumer", consumer, nil))

	err := orch.StartComponent(root, parent, nil, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", consumer.Got)
}

// hangingChild never gets the resource it waits for, forcing the
// supervisor's timeout path — scenario S6.
type hangingChild struct {
	rig.BaseComponent
}

func (h *hangingChild) Start(ctx context.Context) error {
	_, err := rig.GetResourceT[int](ctx, "never-published")
	return err
}

type hangingRoot struct {
	rig.BaseComponent
}

func TestStartupTimeout(t *testing.T) {
	orch, root := newTestOrchestrator(t)
	child := &hangingChild{}
	parent := &hangingRoot{}
	require.NoError(t, parent.AddComponent("stuck", child, nil))

	start := time.Now()
	err := orch.StartComponent(root, parent, nil, 150*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	timeoutErr, ok := err.(*rig.TimeoutError)
	require.True(t, ok, "expected a *rig.TimeoutError, got %T: %v", err, err)
	require.Contains(t, timeoutErr.Pending, "stuck (starting)")
	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

// TestStartComponentRequiresCurrentContext ensures StartComponent fails
// fast with ErrNoCurrentContext when called against a bare context.
func TestStartComponentRequiresCurrentContext(t *testing.T) {
	orch := rig.NewOrchestrator(zerolog.Nop(), nil)
	err := orch.StartComponent(context.Background(), &siblingRoot{}, nil, time.Second)
	require.ErrorIs(t, err, rig.ErrNoCurrentContext)
}

// wrappingFailChild fails during Start so ComponentStartError wrapping
// can be asserted end to end.
type wrappingFailChild struct {
	rig.BaseComponent
}

func (w *wrappingFailChild) Start(ctx context.Context) error {
	return wrappingFailErr
}

type wrapErr struct{ msg string }

func (w *wrapErr) Error() string { return w.msg }

var wrappingFailErr = &wrapErr{"boom"}

func TestComponentStartErrorWrapsFailure(t *testing.T) {
	orch, root := newTestOrchestrator(t)
	child := &wrappingFailChild{}
	parent := &siblingRoot{}
	require.NoError(t, parent.AddComponent("broken", child, nil))

	err := orch.StartComponent(root, parent, nil, time.Second)
	require.Error(t, err)
	startErr, ok := err.(*rig.ComponentStartError)
	require.True(t, ok, "expected *rig.ComponentStartError, got %T: %v", err, err)
	require.Equal(t, rig.PhaseStarting, startErr.Phase)
	require.Equal(t, "broken", startErr.Path)
}
