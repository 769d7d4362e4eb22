package builtins

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/svcl"
)

const cachePrefix = "cache:"

func cacheBuiltins(state *State) []svcl.Builtin {
	return []svcl.Builtin{
		builtin(svcl.BuiltinCacheSet, svcl.Between(2, 3), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			ttl := state.ttl
			if len(args) == 3 {
				seconds, err := asNumber(args[2])
				if err != nil {
					return svcl.Value{}, err
				}
				if seconds <= 0 {
					return svcl.Value{}, fmt.Errorf("cache_set: ttl must be positive, got %s", args[2].Render())
				}
				ttl = time.Duration(seconds * float64(time.Second))
			}
			if !state.cache.SetWithTTL(cachePrefix+args[0].Render(), args[1], 1, ttl) {
				return svcl.Value{}, fmt.Errorf("cache_set: entry for %q was rejected", args[0].Render())
			}
			state.cache.Wait()
			return okValue, nil
		}),
		builtin(svcl.BuiltinCacheGet, svcl.Between(1, 2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			if cached, found := state.cache.Get(cachePrefix + args[0].Render()); found {
				if v, isValue := cached.(svcl.Value); isValue {
					return v, nil
				}
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return svcl.String(""), nil
		}),
		builtin(svcl.BuiltinCacheDelete, svcl.Exactly(1), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			state.cache.Del(cachePrefix + args[0].Render())
			return okValue, nil
		}),
	}
}
