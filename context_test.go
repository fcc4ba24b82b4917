package rig_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/weisbartb/tsbuffer"

	"github.com/go-rig/rig"
)

func typeOfString() reflect.Type { return reflect.TypeOf("") }
func typeOfInt() reflect.Type    { return reflect.TypeOf(0) }

func newTestRoot(t *testing.T) *rig.Context {
	t.Helper()
	buf := tsbuffer.New()
	logger := zerolog.New(buf)
	return rig.NewRootContext(context.Background(), logger)
}

// TestAddResourceNameValidation covers §8 property 1: names outside
// [A-Za-z0-9_] or empty fail validation.
func TestAddResourceNameValidation(t *testing.T) {
	root := newTestRoot(t)
	for _, name := range []string{"", "has space", "dash-name", "1leadingdigit"} {
		err := root.AddResource(42, rig.WithResourceName(name))
		require.ErrorIs(t, err, rig.ErrInvalidName, "name %q should be rejected", name)
	}
	require.NoError(t, root.AddResource(42, rig.WithResourceName("valid_Name1")))
}

// TestAddResourceRejectsNil covers §8 property 2.
func TestAddResourceRejectsNil(t *testing.T) {
	root := newTestRoot(t)
	require.ErrorIs(t, root.AddResource(nil), rig.ErrNilValue)
}

// TestAddResourceUniqueness covers §8 property 3 and scenario S3.
func TestAddResourceUniqueness(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.AddResource(1))
	err := root.AddResource(2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already contains a resource of type int")
}

// TestChainLookup covers §8 property 4: a resource added to a parent is
// visible in a child; one added to the child is invisible in the parent.
func TestChainLookup(t *testing.T) {
	root := newTestRoot(t)
	child := root.NewChild()

	require.NoError(t, root.AddResource("from-parent", rig.WithResourceName("n")))
	val, err := child.GetResourceNoWait(typeOfString(), "n", false)
	require.NoError(t, err)
	require.Equal(t, "from-parent", val)

	require.NoError(t, child.AddResource("from-child", rig.WithResourceName("m")))
	_, err = root.GetResourceNoWait(typeOfString(), "m", false)
	require.ErrorIs(t, err, rig.ErrResourceNotFound)
}

// TestFactoryMemoizationPerContext covers §8 property 5 and scenario S5:
// a factory registered in a parent materializes a distinct value per
// child Context.
func TestFactoryMemoizationPerContext(t *testing.T) {
	root := newTestRoot(t)
	var next int
	var mu sync.Mutex
	require.NoError(t, root.AddResourceFactory(func(c *rig.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return next, nil
	}, []reflect.Type{typeOfInt()}))

	c1 := root.NewChild()
	c2 := root.NewChild()

	v1, err := c1.GetResourceNoWait(typeOfInt(), rig.DefaultName, false)
	require.NoError(t, err)
	v2, err := c2.GetResourceNoWait(typeOfInt(), rig.DefaultName, false)
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)

	v1Again, err := c1.GetResourceNoWait(typeOfInt(), rig.DefaultName, false)
	require.NoError(t, err)
	require.Equal(t, v1, v1Again)
}

// TestTeardownOrder covers §8 property 6 and scenario S4.
func TestTeardownOrder(t *testing.T) {
	root := newTestRoot(t)
	var order []int
	var mu sync.Mutex
	record := func(n int) rig.TeardownFunc {
		return func(error) error {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		}
	}
	require.NoError(t, root.AddTeardownCallback(record(1), false))
	require.NoError(t, root.AddTeardownCallback(record(2), false))
	require.NoError(t, root.AddTeardownCallback(record(3), false))
	require.NoError(t, root.Close(nil))
	require.Equal(t, []int{3, 2, 1}, order)
}

// TestTeardownAggregation covers §8 property 7 and scenario S4: failing
// callbacks still let the rest run, and every failure is collected.
func TestTeardownAggregation(t *testing.T) {
	root := newTestRoot(t)
	boom1 := errors.New("c2 failed")
	boom2 := errors.New("c4 failed")
	var ran []string
	require.NoError(t, root.AddTeardownCallback(func(error) error { ran = append(ran, "c1"); return nil }, false))
	require.NoError(t, root.AddTeardownCallback(func(error) error { ran = append(ran, "c2"); return boom1 }, false))
	require.NoError(t, root.AddTeardownCallback(func(error) error { ran = append(ran, "c3"); return nil }, false))
	require.NoError(t, root.AddTeardownCallback(func(error) error { ran = append(ran, "c4"); return boom2 }, false))

	err := root.Close(nil)
	require.Error(t, err)
	require.Equal(t, []string{"c4", "c3", "c2", "c1"}, ran)

	agg, ok := err.(*rig.AggregateError)
	require.True(t, ok, "expected an *rig.AggregateError, got %T", err)
	require.Len(t, agg.Errors, 2)
}

// TestWaitingResolution covers §8 property 8: a consumer awaiting a
// not-yet-published resource returns once the producer publishes.
func TestWaitingResolution(t *testing.T) {
	root := newTestRoot(t)
	resultCh := make(chan any, 1)
	go func() {
		val, err := root.GetResource(context.Background(), typeOfString(), "greeting", false)
		require.NoError(t, err)
		resultCh <- val
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, root.AddResource("hello", rig.WithResourceName("greeting")))

	select {
	case val := <-resultCh:
		require.Equal(t, "hello", val)
	case <-time.After(2 * time.Second):
		t.Fatal("GetResource never returned after the resource was published")
	}
}

// TestGetResourceNoWaitFailsImmediately ensures the non-waiting variant
// never blocks on a miss.
func TestGetResourceNoWaitFailsImmediately(t *testing.T) {
	root := newTestRoot(t)
	_, err := root.GetResourceNoWait(typeOfString(), "missing", false)
	require.ErrorIs(t, err, rig.ErrResourceNotFound)

	val, err := root.GetResourceNoWait(typeOfString(), "missing", true)
	require.NoError(t, err)
	require.Nil(t, val)
}

// TestCloseRejectsDoubleClose covers the "invalid-state error" half of
// §4.1's close contract.
func TestCloseRejectsDoubleClose(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.Close(nil))
	require.ErrorIs(t, root.Close(nil), rig.ErrContextClosed)
}

// TestRegistrationFailsAfterClose covers §3 invariant 6.
func TestRegistrationFailsAfterClose(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.Close(nil))
	require.ErrorIs(t, root.AddResource(1), rig.ErrContextClosed)
	_, err := root.GetResourceNoWait(typeOfInt(), rig.DefaultName, false)
	require.ErrorIs(t, err, rig.ErrContextClosed)
}

// TestCurrentContextRoundTrip ensures a Context recovers itself from the
// context.Context chain it installs itself into.
func TestCurrentContextRoundTrip(t *testing.T) {
	root := newTestRoot(t)
	handle := rig.CurrentContext(root)
	require.NotNil(t, handle)
	require.Same(t, root, handle.Underlying())

	child := root.NewChild()
	handle = rig.CurrentContext(child)
	require.Same(t, child, handle.Underlying())
}

// TestDescribeReportsDepthAndRegistrations covers §4.8's supplemented
// Describe() diagnostic: open resource/factory keys, state, and depth
// (the number of Contexts in the chain, itself through the root).
func TestDescribeReportsDepthAndRegistrations(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.AddResource(1, rig.WithResourceName("n")))

	rootSnap := root.Describe()
	require.Equal(t, "open", rootSnap.State)
	require.Equal(t, 1, rootSnap.Depth)
	require.Len(t, rootSnap.Resources, 1)

	child := root.NewChild()
	require.NoError(t, child.AddResourceFactory(func(c *rig.Context) (any, error) {
		return "v", nil
	}, []reflect.Type{typeOfString()}))

	childSnap := child.Describe()
	require.Equal(t, 2, childSnap.Depth)
	require.Len(t, childSnap.Factories, 1)

	require.NoError(t, root.Close(nil))
	require.Equal(t, "closed", root.Describe().State)
}
