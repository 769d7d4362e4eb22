package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oarkflow/convert"
	"github.com/oarkflow/json"

	"github.com/oarkflow/svcl"
)

// ImplicitKey names the uuid key column added to models without a pk field.
const ImplicitKey = "id"

var (
	// ErrRecordNotFound indicates no row matched the requested key.
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidRecord indicates a record that does not fit its model.
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is a stored row keyed by field name.
type Record map[string]any

// Insert validates record against model, stores it and returns the stored row.
func (s *Store) Insert(ctx context.Context, model *svcl.ModelDef, record map[string]any) (Record, error) {
	fields := columns(model)
	key := fields[0]
	for name := range record {
		if !hasField(fields, name) {
			return nil, fmt.Errorf("%w: unknown field '%s' for model %s", ErrInvalidRecord, name, model.Name)
		}
	}

	var names []string
	var args []any
	keyValue, hasKey := record[key.Name]
	if !hasKey || keyValue == nil {
		if ColumnType(key.Type) == "TEXT" {
			keyValue, hasKey = uuid.New().String(), true
		}
	}
	for _, f := range fields {
		raw, ok := record[f.Name]
		if f == key {
			raw, ok = keyValue, hasKey
		}
		if !ok || raw == nil {
			if f.Optional || f == key {
				continue
			}
			return nil, fmt.Errorf("%w: missing required field '%s' for model %s", ErrInvalidRecord, f.Name, model.Name)
		}
		v, err := s.encode(f, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field '%s': %v", ErrInvalidRecord, f.Name, err)
		}
		names = append(names, s.quote(f.Name))
		args = append(args, v)
	}

	marks := make([]string, len(args))
	for i := range args {
		marks[i] = s.placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.quote(model.Table), strings.Join(names, ", "), strings.Join(marks, ", "))

	if !hasKey {
		id, err := s.insertGeneratedKey(ctx, stmt, key, args)
		if err != nil {
			return nil, fmt.Errorf("insert into %s: %w", model.Table, err)
		}
		keyValue = id
	} else if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", model.Table, err)
	}
	s.logger.Info().Str("model", model.Name).Str("key", fmt.Sprint(keyValue)).Msg("record inserted")
	return s.Get(ctx, model, keyValue)
}

func (s *Store) insertGeneratedKey(ctx context.Context, stmt string, key *svcl.FieldDef, args []any) (int64, error) {
	if s.driver == DriverPostgres {
		var id int64
		err := s.db.QueryRowContext(ctx, stmt+" RETURNING "+s.quote(key.Name), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get fetches one record by its key.
func (s *Store) Get(ctx context.Context, model *svcl.ModelDef, id any) (Record, error) {
	fields := columns(model)
	keyArg, err := s.encode(fields[0], id)
	if err != nil {
		return nil, fmt.Errorf("%w: key: %v", ErrInvalidRecord, err)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", s.selectList(fields), s.quote(model.Table), s.quote(fields[0].Name), s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, keyArg)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", model.Table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %v", ErrRecordNotFound, model.Name, id)
	}
	return s.scan(rows, fields)
}

// List returns every record of model ordered by key.
func (s *Store) List(ctx context.Context, model *svcl.ModelDef) ([]Record, error) {
	fields := columns(model)
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", s.selectList(fields), s.quote(model.Table), s.quote(fields[0].Name))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", model.Table, err)
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := s.scan(rows, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) selectList(fields []*svcl.FieldDef) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = s.quote(f.Name)
	}
	return strings.Join(names, ", ")
}

func (s *Store) scan(rows *sql.Rows, fields []*svcl.FieldDef) (Record, error) {
	raw := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(Record, len(fields))
	for i, f := range fields {
		v, err := s.decode(f, raw[i])
		if err != nil {
			return nil, fmt.Errorf("decode field '%s': %w", f.Name, err)
		}
		rec[f.Name] = v
	}
	return rec, nil
}

func (s *Store) encode(f *svcl.FieldDef, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch strings.ToLower(f.Type) {
	case "int", "integer":
		n, ok := convert.ToInt64(raw)
		if !ok {
			return nil, fmt.Errorf("expected int, got %v", raw)
		}
		return n, nil
	case "number", "float", "real":
		n, ok := convert.ToFloat64(raw)
		if !ok {
			return nil, fmt.Errorf("expected number, got %v", raw)
		}
		return n, nil
	case "bool", "boolean":
		b, ok := convert.ToBool(raw)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %v", raw)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case "json":
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case "secret":
		str, _ := convert.ToString(raw)
		return s.secret.sealString(str)
	default:
		str, ok := convert.ToString(raw)
		if !ok {
			return nil, fmt.Errorf("expected string, got %v", raw)
		}
		return str, nil
	}
}

func (s *Store) decode(f *svcl.FieldDef, raw any) (any, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if raw == nil {
		return nil, nil
	}
	switch strings.ToLower(f.Type) {
	case "int", "integer":
		n, _ := convert.ToInt64(raw)
		return n, nil
	case "number", "float", "real":
		n, _ := convert.ToFloat64(raw)
		return n, nil
	case "bool", "boolean":
		if n, ok := raw.(int64); ok {
			return n != 0, nil
		}
		b, _ := convert.ToBool(raw)
		return b, nil
	case "json":
		str, _ := convert.ToString(raw)
		var tree any
		if err := json.Unmarshal([]byte(str), &tree); err != nil {
			return nil, err
		}
		return tree, nil
	case "secret":
		str, _ := convert.ToString(raw)
		return s.secret.openString(str)
	default:
		str, _ := convert.ToString(raw)
		return str, nil
	}
}

// columns lists the key field first, followed by the remaining fields in
// declaration order.
func columns(model *svcl.ModelDef) []*svcl.FieldDef {
	key, ok := model.PrimaryKey()
	if !ok {
		key = &svcl.FieldDef{Name: ImplicitKey, Type: "string", PrimaryKey: true}
	}
	fields := []*svcl.FieldDef{key}
	for _, f := range model.Fields {
		if f != key {
			fields = append(fields, f)
		}
	}
	return fields
}

func hasField(fields []*svcl.FieldDef, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
