package rig_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-rig/rig"
)

// TestInjectRequiredResource covers §8 property 9's required-parameter
// half: a bare T resolves when present.
func TestInjectRequiredResource(t *testing.T) {
	root := rig.NewRootContext(context.Background(), zerolog.Nop())
	require.NoError(t, root.AddResource(7, rig.WithResourceName(rig.DefaultName)))

	inv := rig.Inject(func(n int) int { return n * 2 })
	out, err := inv.Call(root)
	require.NoError(t, err)
	require.Equal(t, []any{14}, out)
}

// TestInjectRequiredResourceMissing covers §8 property 9's other half: a
// bare T propagates ResourceNotFound when absent.
func TestInjectRequiredResourceMissing(t *testing.T) {
	root := rig.NewRootContext(context.Background(), zerolog.Nop())

	inv := rig.Inject(func(n int) int { return n })
	_, err := inv.Call(root)
	require.ErrorIs(t, err, rig.ErrResourceNotFound)
}

// TestInjectOptionalResourceMissing covers §8 property 9: an
// Optional[T] parameter resolves to a not-found zero value instead of
// failing the call.
func TestInjectOptionalResourceMissing(t *testing.T) {
	root := rig.NewRootContext(context.Background(), zerolog.Nop())

	inv := rig.Inject(func(n rig.Optional[int]) bool { return n.Found })
	out, err := inv.Call(root)
	require.NoError(t, err)
	require.Equal(t, []any{false}, out)
}

// TestInjectOptionalResourcePresent mirrors the present case so the
// Found/Value pair is exercised end to end.
func TestInjectOptionalResourcePresent(t *testing.T) {
	root := rig.NewRootContext(context.Background(), zerolog.Nop())
	require.NoError(t, root.AddResource("hi", rig.WithResourceName(rig.DefaultName)))

	inv := rig.Inject(func(s rig.Optional[string]) string {
		if !s.Found {
			return "missing"
		}
		return s.Value
	})
	out, err := inv.Call(root)
	require.NoError(t, err)
	require.Equal(t, []any{"hi"}, out)
}

// TestInjectNamedParameter covers the Named() index-based override —
// Go's substitute for the original's keyword-argument resource names.
func TestInjectNamedParameter(t *testing.T) {
	root := rig.NewRootContext(context.Background(), zerolog.Nop())
	require.NoError(t, root.AddResource(1, rig.WithResourceName("first")))
	require.NoError(t, root.AddResource(2, rig.WithResourceName("second")))

	inv := rig.Inject(func(a, b int) int { return a + b },
		rig.Named(0, "first"),
		rig.Named(1, "second"),
	)
	out, err := inv.Call(root)
	require.NoError(t, err)
	require.Equal(t, []any{3}, out)
}

// TestInjectPassesThroughContextParameter ensures a context.Context
// parameter is bound to the call-time ctx, not resolved as a resource.
func TestInjectPassesThroughContextParameter(t *testing.T) {
	root := rig.NewRootContext(context.Background(), zerolog.Nop())
	require.NoError(t, root.AddResource(5, rig.WithResourceName(rig.DefaultName)))

	var seen context.Context
	inv := rig.Inject(func(ctx context.Context, n int) error {
		seen = ctx
		return nil
	})
	_, err := inv.Call(root)
	require.NoError(t, err)
	require.NotNil(t, seen)
}

// TestInjectRequiresCurrentContext ensures Call fails fast without a
// current Context when the wrapped function actually has a resource
// parameter to resolve.
func TestInjectRequiresCurrentContext(t *testing.T) {
	inv := rig.Inject(func(n int) int { return n })
	_, err := inv.Call(context.Background())
	require.ErrorIs(t, err, rig.ErrNoCurrentContext)
}

// TestResourceMarkerPanicsOutsideInject covers §4.5/§9's attribute-access
// trap: calling the sentinel directly (instead of through Inject) must
// fail loudly rather than silently yielding a zero value.
func TestResourceMarkerPanicsOutsideInject(t *testing.T) {
	require.PanicsWithError(t, rig.ErrUninjectedResource.Error(), func() {
		_ = rig.Resource[int]()
	})
}
