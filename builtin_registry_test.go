package svcl

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func upperBuiltin() Builtin {
	return Builtin{
		Kind:  BuiltinUpper,
		Arity: Exactly(1),
		Invoke: func(ctx context.Context, args []Value) (Value, error) {
			return String(strings.ToUpper(args[0].Render())), nil
		},
	}
}

func TestBuiltinRegistryRegisterAndLookup(t *testing.T) {
	r := NewBuiltinRegistry()
	if err := r.Register(upperBuiltin()); err != nil {
		t.Fatalf("register upper failed: %v", err)
	}
	b, ok := r.Lookup("upper")
	if !ok || b.Kind != BuiltinUpper {
		t.Fatalf("expected upper to be registered, got %#v", b)
	}
	v, err := evalSource(t, nil, `upper("abc") + "!"`, nil, r)
	if err != nil || v.Render() != "ABC!" {
		t.Fatalf("unexpected evaluation result %q, %v", v.Render(), err)
	}
	if kinds := r.Kinds(); len(kinds) != 1 || kinds[0] != BuiltinUpper {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestBuiltinRegistryRejectsInvalidRegistrations(t *testing.T) {
	r := NewBuiltinRegistry()
	err := r.Register(Builtin{Kind: "reverse", Arity: Exactly(1), Invoke: upperBuiltin().Invoke})
	expectCode(t, err, ErrCodeRegistry)

	err = r.Register(Builtin{Kind: BuiltinLen, Arity: Exactly(1)})
	expectCode(t, err, ErrCodeRegistry)

	err = r.Register(Builtin{Kind: BuiltinLen, Arity: Between(2, 1), Invoke: upperBuiltin().Invoke})
	expectCode(t, err, ErrCodeRegistry)
}

func TestBuiltinRegistryOverrideAndFreeze(t *testing.T) {
	r := NewBuiltinRegistry()
	if err := r.Register(upperBuiltin()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	err := r.Register(upperBuiltin())
	expectCode(t, err, ErrCodeRegistry)

	r.SetOptions(RegistryOptions{AllowOverride: true})
	if err := r.Register(upperBuiltin()); err != nil {
		t.Fatalf("expected override to be allowed: %v", err)
	}

	r.Freeze()
	if !r.Options().Frozen {
		t.Fatal("expected registry to report frozen")
	}
	err = r.Register(Builtin{Kind: BuiltinLower, Arity: Exactly(1), Invoke: upperBuiltin().Invoke})
	if !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
	if err := r.Unregister(BuiltinUpper); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected unregister to fail while frozen, got %v", err)
	}
	r.Unfreeze()
	if err := r.Unregister(BuiltinUpper); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if _, ok := r.Lookup("upper"); ok {
		t.Fatal("expected upper to be removed")
	}
}

func TestBuiltinKindsAreClosed(t *testing.T) {
	kinds := BuiltinKinds()
	seen := map[BuiltinKind]bool{}
	for _, k := range kinds {
		if seen[k] {
			t.Fatalf("duplicate kind %s", k)
		}
		seen[k] = true
		if parsed, ok := ParseBuiltinKind(string(k)); !ok || parsed != k {
			t.Fatalf("kind %s does not parse back", k)
		}
	}
	for _, k := range []BuiltinKind{BuiltinLen, BuiltinOpenAIChat, BuiltinModelInsert, BuiltinCacheGet} {
		if !seen[k] {
			t.Fatalf("missing kind %s", k)
		}
	}
	if _, ok := ParseBuiltinKind("reverse"); ok {
		t.Fatal("unexpected kind reverse")
	}
	kinds[0] = "mutated"
	if BuiltinKinds()[0] != BuiltinLen {
		t.Fatal("BuiltinKinds exposes internal state")
	}
}

func TestArity(t *testing.T) {
	cases := []struct {
		arity    Arity
		n        int
		accepts  bool
		describe string
	}{
		{Exactly(1), 1, true, "1"},
		{Exactly(1), 2, false, "1"},
		{AtLeast(1), 0, false, "at least 1"},
		{AtLeast(1), 7, true, "at least 1"},
		{Between(1, 2), 2, true, "1 to 2"},
		{Between(1, 2), 3, false, "1 to 2"},
	}
	for _, tc := range cases {
		if got := tc.arity.Accepts(tc.n); got != tc.accepts {
			t.Fatalf("%s accepts %d: expected %v", tc.arity, tc.n, tc.accepts)
		}
		if tc.arity.String() != tc.describe {
			t.Fatalf("expected %q, got %q", tc.describe, tc.arity.String())
		}
	}
}
