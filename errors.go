package rig

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/weisbartb/stack"
)

// Sentinel errors callers can match with errors.Is. Wrapped instances
// carry additional diagnostic key/value context via weisbartb/stack.
var (
	// ErrResourceNotFound is returned by a required non-waiting resource
	// lookup that could not be satisfied. The waiting GetResource does not
	// return it; it keeps waiting until its ctx is done.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrResourceConflict is returned when a (type, name) key is published
	// twice in the same Context.
	ErrResourceConflict = errors.New("resource already registered")
	// ErrNoCurrentContext is returned by StartComponent when called without
	// an active Context reachable from the supplied context.Context.
	ErrNoCurrentContext = errors.New("no current context")
	// ErrContextClosed is returned by any registration or lookup performed
	// against a Context that is closing or closed.
	ErrContextClosed = errors.New("context is closed")
	// ErrInvalidName is returned when a resource, factory or component
	// alias fails the [A-Za-z_][A-Za-z0-9_]* pattern.
	ErrInvalidName = errors.New("invalid name")
	// ErrNilValue is returned by AddResource when value is nil.
	ErrNilValue = errors.New("resource value must not be nil")
	// ErrAlreadyStarted is returned by AddComponent once the owning
	// component's startup has begun.
	ErrAlreadyStarted = errors.New("component already started")
	// ErrDuplicateAlias is returned by AddComponent for a repeated alias.
	ErrDuplicateAlias = errors.New("duplicate component alias")
	// ErrUninjectedResource is the panic value raised by Resource[T] when
	// called outside an Invoker.Call.
	ErrUninjectedResource = errors.New("resource marker used outside Inject — did you forget to wrap with Inject?")
	// errNoFactoryTypes is returned by AddResourceFactory when called with
	// no declared types (prefer the generic AddFactoryT[T] helper).
	errNoFactoryTypes = errors.New("factory must declare at least one type")
)

// ResourceNotFoundError reports that a required (Type, Name) lookup
// resolved to nothing.
type ResourceNotFoundError struct {
	Type reflectTypeName
	Name string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("no resource of type %s registered under name %q", e.Type, e.Name)
}

func (e *ResourceNotFoundError) Unwrap() error { return ErrResourceNotFound }

func newResourceNotFoundError(t reflect.Type, name string) error {
	typeName := typeDisplayName(t)
	return stack.Trace(&ResourceNotFoundError{Type: typeName, Name: name},
		stack.ErrorKVP{Key: "type", Value: typeName},
		stack.ErrorKVP{Key: "name", Value: name},
	)
}

// StartupPhase names the phase of a component's startup a
// ComponentStartError was raised during.
type StartupPhase string

const (
	PhaseCreating  StartupPhase = "creating"
	PhasePreparing StartupPhase = "preparing"
	PhaseStarting  StartupPhase = "starting"
)

// ComponentStartError wraps any error raised while building or starting a
// component node, attaching the dotted path and phase for diagnostics.
type ComponentStartError struct {
	Phase     StartupPhase
	Path      string
	ClassName string
	Cause     error
}

func (e *ComponentStartError) Error() string {
	path := e.Path
	if path == "" {
		path = "<root>"
	}
	return fmt.Sprintf("component %s (%s) failed while %s: %v", path, e.ClassName, e.Phase, e.Cause)
}

func (e *ComponentStartError) Unwrap() error { return e.Cause }

func newComponentStartError(phase StartupPhase, path, className string, cause error) *ComponentStartError {
	return &ComponentStartError{
		Phase:     phase,
		Path:      path,
		ClassName: className,
		Cause: stack.Trace(cause,
			stack.ErrorKVP{Key: "path", Value: path},
			stack.ErrorKVP{Key: "phase", Value: string(phase)},
			stack.ErrorKVP{Key: "component", Value: className},
		),
	}
}

// ResourceConflictError reports that (Type, Name) was already published in
// a Context.
type ResourceConflictError struct {
	Type reflectTypeName
	Name string
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("context already contains a resource of type %s under name %q", e.Type, e.Name)
}

func (e *ResourceConflictError) Unwrap() error { return ErrResourceConflict }

func newResourceConflictError(typeName reflectTypeName, name string) error {
	return stack.Trace(&ResourceConflictError{Type: typeName, Name: name},
		stack.ErrorKVP{Key: "type", Value: string(typeName)},
		stack.ErrorKVP{Key: "name", Value: name},
	)
}

// TimeoutError is raised by the Orchestrator's supervisor when a startup
// has not completed within its deadline.
type TimeoutError struct {
	Timeout   string
	Pending   []string
	StackDump string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("component startup timed out after %s; still pending: %v", e.Timeout, e.Pending)
}

// AggregateError collects every error raised by a set of concurrently
// running operations (sibling component starts, teardown callbacks).
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors)
}

// aggregate collapses errs to nil, the single error, or an *AggregateError,
// matching §4.3/§7: "if the aggregate resolves to a single leaf exception,
// it is unwrapped and rethrown; otherwise the aggregate is rethrown."
func aggregate(errs []error) error {
	nonNil := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &AggregateError{Errors: nonNil}
	}
}

// ApplicationExit is a sentinel "failure" — not an error in the usual
// sense — that a component's Start can raise to request an ordered
// shutdown with a specific process exit code.
type ApplicationExit struct {
	Code int
}

func (e *ApplicationExit) Error() string {
	return fmt.Sprintf("application exit requested with code %d", e.Code)
}

// NormalizeExitCode coerces a code outside [0, 127] to 1, per §6. It only
// returns the coerced code; it logs no warning.
func NormalizeExitCode(code int) int {
	if code < 0 || code > 127 {
		return 1
	}
	return code
}

// reflectTypeName is a small string alias so error messages can embed a
// type's display name without importing reflect into every caller.
type reflectTypeName = string
