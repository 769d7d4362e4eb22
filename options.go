package svcl

import (
	"github.com/oarkflow/log"
)

type Option func(*Evaluator)

func WithLogger(logger *log.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxCallDepth caps nested function and method calls. Values below 1 keep the default.
func WithMaxCallDepth(depth int) Option {
	return func(e *Evaluator) {
		if depth > 0 {
			e.maxCallDepth = depth
		}
	}
}

// WithGlobals adds bindings visible from every scope after local lookup fails.
func WithGlobals(globals map[string]Value) Option {
	return func(e *Evaluator) {
		if e.globals == nil {
			e.globals = make(map[string]Value, len(globals))
		}
		for k, v := range globals {
			e.globals[k] = v
		}
	}
}
