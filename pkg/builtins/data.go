package builtins

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"strings"

	"github.com/oarkflow/convert"

	"github.com/oarkflow/svcl"
)

// frame is the {columns, rows} table shape used by the df_* builtins.
type frame struct {
	columns []string
	rows    [][]any
}

func (f frame) value() svcl.Value {
	cols := make([]any, len(f.columns))
	for i, c := range f.columns {
		cols[i] = c
	}
	rows := make([]any, len(f.rows))
	for i, r := range f.rows {
		rows[i] = r
	}
	return svcl.JSON(map[string]any{"columns": cols, "rows": rows})
}

func dataBuiltins(state *State) []svcl.Builtin {
	return []svcl.Builtin{
		builtin(svcl.BuiltinVec, svcl.AtLeast(1), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			items := make([]any, len(args))
			for i, arg := range args {
				if n, err := asNumber(arg); err == nil {
					items[i] = n
				} else {
					items[i] = arg.Render()
				}
			}
			return svcl.JSON(items), nil
		}),
		builtin(svcl.BuiltinTensorAdd, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			a, b, err := numberPair("tensor_add", args)
			if err != nil {
				return svcl.Value{}, err
			}
			out := make([]any, len(a))
			for i := range a {
				out[i] = a[i] + b[i]
			}
			return svcl.JSON(out), nil
		}),
		builtin(svcl.BuiltinTensorDot, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			a, b, err := numberPair("tensor_dot", args)
			if err != nil {
				return svcl.Value{}, err
			}
			dot := 0.0
			for i := range a {
				dot += a[i] * b[i]
			}
			return svcl.Number(dot), nil
		}),
		builtin(svcl.BuiltinDFFromCSV, svcl.Exactly(1), func(ctx context.Context, args []svcl.Value) (svcl.Value, error) {
			body, err := state.fetch(ctx, args[0].Render())
			if err != nil {
				return svcl.Value{}, err
			}
			f, err := frameFromCSV(body)
			if err != nil {
				return svcl.Value{}, err
			}
			return f.value(), nil
		}),
		builtin(svcl.BuiltinDFHead, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			f, err := parseFrame(args[0])
			if err != nil {
				return svcl.Value{}, err
			}
			n, err := asNumber(args[1])
			if err != nil {
				return svcl.Value{}, err
			}
			limit := int(math.Max(0, math.Floor(n)))
			if len(f.rows) > limit {
				f.rows = f.rows[:limit]
			}
			return f.value(), nil
		}),
		builtin(svcl.BuiltinDFSelect, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			f, err := parseFrame(args[0])
			if err != nil {
				return svcl.Value{}, err
			}
			names := columnNames(args[1])
			if len(names) == 0 {
				return svcl.Value{}, fmt.Errorf("df_select: columns must not be empty")
			}
			return f.selectColumns(names)
		}),
		builtin(svcl.BuiltinLinregFit, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			xs, ys, err := numberPair("linreg_fit", args)
			if err != nil {
				return svcl.Value{}, err
			}
			a, b, err := fitLine(xs, ys)
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.JSON(map[string]any{"kind": "linreg", "a": a, "b": b}), nil
		}),
		builtin(svcl.BuiltinLinregPredict, svcl.Exactly(2), func(_ context.Context, args []svcl.Value) (svcl.Value, error) {
			tree, err := jsonTree(args[0])
			if err != nil {
				return svcl.Value{}, fmt.Errorf("linreg_predict: model %w", err)
			}
			model, isObj := tree.(map[string]any)
			if !isObj {
				return svcl.Value{}, fmt.Errorf("linreg_predict: model must be an object")
			}
			a, okA := model["a"].(float64)
			b, okB := model["b"].(float64)
			if !okA || !okB {
				return svcl.Value{}, fmt.Errorf("linreg_predict: model missing numeric 'a' or 'b'")
			}
			x, err := asNumber(args[1])
			if err != nil {
				return svcl.Value{}, err
			}
			return svcl.Number(a*x + b), nil
		}),
	}
}

// fitLine returns slope a and intercept b of the least-squares line.
func fitLine(xs, ys []float64) (float64, float64, error) {
	if len(xs) < 2 {
		return 0, 0, fmt.Errorf("linreg_fit: need at least 2 points")
	}
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n
	var num, den float64
	for i := range xs {
		dx := xs[i] - meanX
		num += dx * (ys[i] - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0, 0, fmt.Errorf("linreg_fit: variance of x is zero")
	}
	a := num / den
	return a, meanY - a*meanX, nil
}

func numberPair(name string, args []svcl.Value) ([]float64, []float64, error) {
	a, err := numberArray(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%s: first argument: %w", name, err)
	}
	b, err := numberArray(args[1])
	if err != nil {
		return nil, nil, fmt.Errorf("%s: second argument: %w", name, err)
	}
	if len(a) != len(b) {
		return nil, nil, fmt.Errorf("%s: arrays must have the same length, got %d and %d", name, len(a), len(b))
	}
	return a, b, nil
}

func numberArray(v svcl.Value) ([]float64, error) {
	tree, err := jsonTree(v)
	if err != nil {
		return nil, err
	}
	items, isArr := tree.([]any)
	if !isArr {
		return nil, fmt.Errorf("expected a JSON array, got %s", v.Render())
	}
	out := make([]float64, len(items))
	for i, item := range items {
		n, converted := convert.ToFloat64(item)
		if !converted {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = n
	}
	return out, nil
}

func frameFromCSV(text string) (frame, error) {
	records, err := csv.NewReader(strings.NewReader(text)).ReadAll()
	if err != nil {
		return frame{}, fmt.Errorf("df_from_csv: %w", err)
	}
	if len(records) == 0 {
		return frame{}, fmt.Errorf("df_from_csv: missing header row")
	}
	f := frame{columns: records[0], rows: make([][]any, 0, len(records)-1)}
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, field := range rec {
			row[i] = field
			if strings.TrimSpace(field) != "" {
				if n, converted := convert.ToFloat64(field); converted {
					row[i] = n
				}
			}
		}
		f.rows = append(f.rows, row)
	}
	return f, nil
}

func parseFrame(v svcl.Value) (frame, error) {
	tree, err := jsonTree(v)
	if err != nil {
		return frame{}, err
	}
	obj, isObj := tree.(map[string]any)
	if !isObj {
		return frame{}, fmt.Errorf("dataframe must be an object with columns and rows")
	}
	cols, colsOK := obj["columns"].([]any)
	rows, rowsOK := obj["rows"].([]any)
	if !colsOK || !rowsOK {
		return frame{}, fmt.Errorf("dataframe must have 'columns' and 'rows' arrays")
	}
	f := frame{columns: make([]string, len(cols)), rows: make([][]any, len(rows))}
	for i, c := range cols {
		f.columns[i] = fmt.Sprint(c)
	}
	for i, r := range rows {
		row, isRow := r.([]any)
		if !isRow {
			return frame{}, fmt.Errorf("dataframe row %d is not an array", i)
		}
		f.rows[i] = row
	}
	return f, nil
}

func (f frame) selectColumns(names []string) (svcl.Value, error) {
	indices := make([]int, len(names))
	for i, name := range names {
		idx := -1
		for j, c := range f.columns {
			if c == name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return svcl.Value{}, fmt.Errorf("df_select: column '%s' not found in dataframe", name)
		}
		indices[i] = idx
	}
	out := frame{columns: names, rows: make([][]any, len(f.rows))}
	for r, row := range f.rows {
		picked := make([]any, len(indices))
		for i, idx := range indices {
			if idx >= len(row) {
				return svcl.Value{}, fmt.Errorf("df_select: row %d is shorter than expected", r)
			}
			picked[i] = row[idx]
		}
		out.rows[r] = picked
	}
	return out.value(), nil
}

// columnNames accepts a comma-separated String or a JSON array of names.
func columnNames(v svcl.Value) []string {
	var names []string
	if tree, isJSON := v.AsJSON(); isJSON {
		if items, isArr := tree.([]any); isArr {
			for _, item := range items {
				names = append(names, fmt.Sprint(item))
			}
			return names
		}
	}
	for _, part := range strings.Split(v.Render(), ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
