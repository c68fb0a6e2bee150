// internal/rules/registry.go
package rules

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/solatis/gears/internal/types"
)

/*
 * Capability registry.
 *
 * Host functionality is handed to rules as named capabilities. Registration
 * is open until the first rule is compiled; after that the set is frozen and
 * every rule sees the same immutable snapshot through a single
 * *Capabilities value.
 *
 * Rules look capabilities up by name rather than by position, so adding a
 * capability never shifts what an existing rule receives.
 */

// Registry collects capabilities before the engine starts.
type Registry struct {
	mu     sync.Mutex
	names  []string
	values map[string]any
	frozen *Capabilities
}

// NewRegistry creates an open registry.
func NewRegistry() *Registry {
	return &Registry{values: make(map[string]any)}
}

// Register adds a named capability.
func (r *Registry) Register(name string, capability any) error {
	if name == "" {
		return types.ErrEmptyCapabilityName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen != nil {
		return fmt.Errorf("register %q: %w", name, types.ErrRegistryFrozen)
	}
	if _, exists := r.values[name]; exists {
		return fmt.Errorf("register %q: %w", name, types.ErrDuplicateCapability)
	}

	r.names = append(r.names, name)
	r.values[name] = capability
	return nil
}

// MustRegister is Register that panics on error. For program setup only.
func (r *Registry) MustRegister(name string, capability any) {
	if err := r.Register(name, capability); err != nil {
		panic(err)
	}
}

// Freeze closes registration and returns the snapshot. Idempotent.
func (r *Registry) Freeze() *Capabilities {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen == nil {
		values := make(map[string]any, len(r.values))
		for k, v := range r.values {
			values[k] = v
		}
		names := make([]string, len(r.names))
		copy(names, r.names)
		r.frozen = &Capabilities{names: names, values: values}
	}
	return r.frozen
}

// Frozen reports whether registration is closed.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen != nil
}

// Capabilities is the immutable named view rules receive.
type Capabilities struct {
	names  []string
	values map[string]any
}

// Get returns the named capability, or nil.
func (c *Capabilities) Get(name string) any {
	if c == nil {
		return nil
	}
	return c.values[name]
}

// Lookup returns the named capability and whether it exists.
func (c *Capabilities) Lookup(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[name]
	return v, ok
}

// Names returns capability names in registration order.
func (c *Capabilities) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Call invokes a function-valued capability. Arguments are assigned or
// converted to the parameter types; nil becomes the zero value. A trailing
// non-nil error result is returned as the error, and the first other result
// (if any) as the value.
func (c *Capabilities) Call(name string, args ...any) (any, error) {
	v, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("call %q: %w", name, types.ErrUnknownCapability)
	}

	fn := reflect.ValueOf(v)
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("call %q: %w", name, types.ErrNotCallable)
	}

	in, err := callArgs(fn.Type(), args)
	if err != nil {
		return nil, fmt.Errorf("call %q: %w", name, err)
	}

	return callResults(fn.Call(in))
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func callArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("want at least %d arguments, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("want %d arguments, got %d", fixed, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var target reflect.Type
		if i < fixed {
			target = ft.In(i)
		} else {
			target = ft.In(ft.NumIn() - 1).Elem()
		}

		if arg == nil {
			in[i] = reflect.Zero(target)
			continue
		}

		av := reflect.ValueOf(arg)
		switch {
		case av.Type().AssignableTo(target):
			in[i] = av
		case av.Type().ConvertibleTo(target):
			in[i] = av.Convert(target)
		default:
			return nil, fmt.Errorf("argument %d: cannot use %s as %s", i, av.Type(), target)
		}
	}
	return in, nil
}

func callResults(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type().Implements(errorType) {
		if !out[n-1].IsNil() {
			return nil, out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}
