// internal/rules/registry_test.go
package rules

import (
	"errors"
	"fmt"
	"testing"

	"github.com/solatis/gears/internal/types"
)

func TestRegistry_RegisterAndFreeze(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("alpha", 1); err != nil {
		t.Fatalf("Register(alpha) error = %v", err)
	}
	if err := r.Register("beta", "two"); err != nil {
		t.Fatalf("Register(beta) error = %v", err)
	}

	if err := r.Register("alpha", 3); !errors.Is(err, types.ErrDuplicateCapability) {
		t.Errorf("duplicate Register() error = %v, want ErrDuplicateCapability", err)
	}
	if err := r.Register("", 3); !errors.Is(err, types.ErrEmptyCapabilityName) {
		t.Errorf("empty Register() error = %v, want ErrEmptyCapabilityName", err)
	}

	caps := r.Freeze()
	if !r.Frozen() {
		t.Fatal("Frozen() = false after Freeze()")
	}
	if again := r.Freeze(); again != caps {
		t.Error("Freeze() not idempotent")
	}

	if err := r.Register("gamma", 3); !errors.Is(err, types.ErrRegistryFrozen) {
		t.Errorf("Register() after freeze error = %v, want ErrRegistryFrozen", err)
	}

	names := caps.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("Names() = %v, want [alpha beta]", names)
	}
	if caps.Get("alpha") != 1 || caps.Get("beta") != "two" {
		t.Errorf("Get() returned wrong values")
	}
	if caps.Get("gamma") != nil {
		t.Errorf("Get(gamma) = %v, want nil", caps.Get("gamma"))
	}
}

func TestCapabilities_Call(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("add", func(a, b int) int { return a + b })
	r.MustRegister("kaboom", func(msg string) error { return fmt.Errorf("kaboom: %s", msg) })
	r.MustRegister("join", func(sep string, parts ...string) (string, error) {
		out := ""
		for i, p := range parts {
			if i > 0 {
				out += sep
			}
			out += p
		}
		return out, nil
	})
	r.MustRegister("ptr", func(e *types.Event) bool { return e == nil })
	r.MustRegister("value", 42)
	caps := r.Freeze()

	tests := []struct {
		name    string
		cap     string
		args    []any
		want    any
		wantErr error
		anyErr  bool
	}{
		{name: "simple", cap: "add", args: []any{2, 3}, want: 5},
		{name: "convertible float", cap: "add", args: []any{2.0, 3}, want: 5},
		{name: "error result", cap: "kaboom", args: []any{"boom"}, anyErr: true},
		{name: "variadic", cap: "join", args: []any{",", "a", "b"}, want: "a,b"},
		{name: "variadic empty", cap: "join", args: []any{","}, want: ""},
		{name: "nil argument", cap: "ptr", args: []any{nil}, want: true},
		{name: "unknown", cap: "nope", wantErr: types.ErrUnknownCapability},
		{name: "not callable", cap: "value", wantErr: types.ErrNotCallable},
		{name: "arity", cap: "add", args: []any{1}, anyErr: true},
		{name: "bad type", cap: "add", args: []any{"x", 1}, anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := caps.Call(tt.cap, tt.args...)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Call() error = %v, want %v", err, tt.wantErr)
				}
				return
			case tt.anyErr:
				if err == nil {
					t.Fatalf("Call() error = nil, want error")
				}
				return
			case err != nil:
				t.Fatalf("Call() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Call() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestCapabilities_Nil(t *testing.T) {
	var caps *Capabilities
	if caps.Get("x") != nil || caps.Names() != nil {
		t.Error("nil Capabilities should be empty")
	}
	if _, err := caps.Call("x"); !errors.Is(err, types.ErrUnknownCapability) {
		t.Errorf("Call() on nil error = %v", err)
	}
}
