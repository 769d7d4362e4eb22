package builtins

import (
	"context"
	"fmt"

	"github.com/oarkflow/svcl"
	"github.com/oarkflow/svcl/pkg/storage"
)

func modelBuiltins(state *State) []svcl.Builtin {
	return []svcl.Builtin{
		builtin(svcl.BuiltinModelInsert, svcl.Exactly(2), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			model, err := state.resolveModel(args[0])
			if err != nil {
				return svcl.Value{}, err
			}
			tree, err := jsonTree(args[1])
			if err != nil {
				return svcl.Value{}, err
			}
			record, isObj := tree.(map[string]any)
			if !isObj {
				return svcl.Value{}, fmt.Errorf("model_insert: record must be a JSON object")
			}
			stored, err := state.store.Insert(ctx, model, record)
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.JSON(map[string]any(stored)), nil
		}),
		builtin(svcl.BuiltinModelGet, svcl.Exactly(2), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			model, err := state.resolveModel(args[0])
			if err != nil {
				return svcl.Value{}, err
			}
			rec, err := state.store.Get(ctx, model, args[1].Interface())
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.JSON(map[string]any(rec)), nil
		}),
		builtin(svcl.BuiltinModelList, svcl.Exactly(1), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			model, err := state.resolveModel(args[0])
			if err != nil {
				return svcl.Value{}, err
			}
			records, err := state.store.List(ctx, model)
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.JSON(recordsTree(records)), nil
		}),
	}
}

func (s *State) resolveModel(name svcl.Value) (*svcl.ModelDef, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no model storage configured")
	}
	model, found := s.lookupModel(name.Render())
	if !found {
		return nil, fmt.Errorf("unknown model '%s'", name.Render())
	}
	return model, nil
}

func recordsTree(records []storage.Record) []any {
	out := make([]any, len(records))
	for i, rec := range records {
		out[i] = map[string]any(rec)
	}
	return out
}
