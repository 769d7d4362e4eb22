// Package builtins provides the capability table that backs svcl's builtin
// functions: string and numeric helpers, config and env access, outbound
// HTTP, data helpers, caching, model storage and OpenAI calls.
package builtins

import (
	"context"

	"github.com/oarkflow/svcl"
)

// New returns a registry holding every builtin kind, bound to state. A nil
// state gets a default one.
func New(state *State) *svcl.BuiltinRegistry {
	if state == nil {
		s, err := NewState()
		if err != nil {
			panic(err)
		}
		state = s
	}
	r := svcl.NewBuiltinRegistry()
	r.MustRegister(coreBuiltins(state)...)
	r.MustRegister(webBuiltins(state)...)
	r.MustRegister(dataBuiltins(state)...)
	r.MustRegister(cacheBuiltins(state)...)
	r.MustRegister(modelBuiltins(state)...)
	r.MustRegister(openAIBuiltins(state)...)
	return r
}

func builtin(kind svcl.BuiltinKind, arity svcl.Arity, fn svcl.BuiltinFunc) svcl.Builtin {
	return svcl.Builtin{Kind: kind, Arity: arity, Policy: svcl.FailurePropagate, Invoke: fn}
}

func absorbing(kind svcl.BuiltinKind, arity svcl.Arity, fn svcl.BuiltinFunc) svcl.Builtin {
	return svcl.Builtin{Kind: kind, Arity: arity, Policy: svcl.FailureAbsorb, Invoke: fn}
}

// unary adapts a one-argument function that cannot fail.
func unary(fn func(svcl.Value) svcl.Value) svcl.BuiltinFunc {
	return func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
		return fn(args[0]), nil
	}
}

var okValue = svcl.String("ok")
