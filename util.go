package rig

import "context"

// MustGetResourceT resolves a required resource of type T without waiting,
// panicking instead of returning an error on failure. It mirrors the
// original's require_resource — for call sites where a missing resource is
// a programmer error rather than a recoverable condition (§4.8).
func MustGetResourceT[T any](ctx context.Context, name string) T {
	handle := CurrentContext(ctx)
	if handle == nil {
		panic(ErrNoCurrentContext)
	}
	val, err := handle.GetResourceNoWait(typeOf[T](), name, false)
	if err != nil {
		panic(err)
	}
	return val.(T)
}
