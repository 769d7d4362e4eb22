package builtins

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/oarkflow/convert"

	"github.com/oarkflow/svcl"
)

func coreBuiltins(state *State) []svcl.Builtin {
	return []svcl.Builtin{
		builtin(svcl.BuiltinLen, svcl.Exactly(1), unary(func(v svcl.Value) svcl.Value {
			return svcl.Number(float64(utf8.RuneCountInString(v.Render())))
		})),
		builtin(svcl.BuiltinUpper, svcl.Exactly(1), unary(func(v svcl.Value) svcl.Value {
			return svcl.String(strings.ToUpper(v.Render()))
		})),
		builtin(svcl.BuiltinLower, svcl.Exactly(1), unary(func(v svcl.Value) svcl.Value {
			return svcl.String(strings.ToLower(v.Render()))
		})),
		builtin(svcl.BuiltinString, svcl.Exactly(1), unary(func(v svcl.Value) svcl.Value {
			return svcl.String(v.Render())
		})),
		builtin(svcl.BuiltinNumber, svcl.Exactly(1), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			n, err := asNumber(args[0])
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.Number(n), nil
		}),
		builtin(svcl.BuiltinSum, svcl.AtLeast(1), fold(func(acc []float64) float64 {
			total := 0.0
			for _, n := range acc {
				total += n
			}
			return total
		})),
		builtin(svcl.BuiltinAvg, svcl.AtLeast(1), fold(func(acc []float64) float64 {
			total := 0.0
			for _, n := range acc {
				total += n
			}
			return total / float64(len(acc))
		})),
		builtin(svcl.BuiltinMin, svcl.AtLeast(1), fold(func(acc []float64) float64 {
			best := acc[0]
			for _, n := range acc[1:] {
				if n < best {
					best = n
				}
			}
			return best
		})),
		builtin(svcl.BuiltinMax, svcl.AtLeast(1), fold(func(acc []float64) float64 {
			best := acc[0]
			for _, n := range acc[1:] {
				if n > best {
					best = n
				}
			}
			return best
		})),
		builtin(svcl.BuiltinConfigSet, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			state.configSet(args[0].Render(), args[1])
			return okValue, nil
		}),
		builtin(svcl.BuiltinConfigGet, svcl.Between(1, 2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			if v, found := state.configGet(args[0].Render()); found {
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return svcl.String(""), nil
		}),
		builtin(svcl.BuiltinConfigHas, svcl.Exactly(1), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			_, found := state.configGet(args[0].Render())
			return svcl.Bool(found), nil
		}),
		builtin(svcl.BuiltinEnv, svcl.Exactly(1), unary(func(v svcl.Value) svcl.Value {
			return svcl.String(os.Getenv(v.Render()))
		})),
	}
}

// fold converts every argument to a number before applying fn.
func fold(fn func([]float64) float64) svcl.BuiltinFunc {
	return func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
		nums := make([]float64, len(args))
		for i, arg := range args {
			n, err := asNumber(arg)
			if err != nil {
				return svcl.Value{}, err
			}
			nums[i] = n
		}
		return svcl.Number(fn(nums)), nil
	}
}

// asNumber accepts Numbers and Strings holding a decimal number.
func asNumber(v svcl.Value) (float64, error) {
	if n, isNum := v.AsNumber(); isNum {
		return n, nil
	}
	if s, isStr := v.AsString(); isStr {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			if n, converted := convert.ToFloat64(trimmed); converted {
				return n, nil
			}
		}
		return 0, fmt.Errorf("cannot convert %q to number", s)
	}
	return 0, fmt.Errorf("cannot convert %s value %s to number", v.Kind(), v.Render())
}
