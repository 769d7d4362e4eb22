package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oarkflow/svcl"
)

func newTestStore(t *testing.T, key string) *Store {
	t.Helper()
	store, err := New(Config{Path: filepath.Join(t.TempDir(), "svcl.db"), EncryptionKey: key})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func parseModels(t *testing.T, src string) []*svcl.ModelDef {
	t.Helper()
	prog, err := svcl.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var models []*svcl.ModelDef
	for _, d := range prog.Decls {
		if m, ok := d.(*svcl.ModelDef); ok {
			models = append(models, m)
		}
	}
	return models
}

const modelSource = `model User:
    id: int pk
    name: string
    age?: int
    score?: number
    active: bool
    token?: secret
    meta?: json

model Note:
    text: string
`

func TestCreateTableSQL(t *testing.T) {
	store := newTestStore(t, "")
	models := parseModels(t, modelSource)
	stmt := store.createTableSQL(models[0])
	expected := `CREATE TABLE IF NOT EXISTS "user" ("id" INTEGER PRIMARY KEY, "name" TEXT NOT NULL, "age" INTEGER, "score" REAL, "active" INTEGER NOT NULL, "token" TEXT, "meta" TEXT)`
	if stmt != expected {
		t.Fatalf("unexpected DDL:\n%s\nexpected:\n%s", stmt, expected)
	}
	if stmt := store.createTableSQL(models[1]); !strings.Contains(stmt, `"id" TEXT PRIMARY KEY`) {
		t.Fatalf("expected implicit key column, got %s", stmt)
	}
}

func TestInsertGetList(t *testing.T) {
	store := newTestStore(t, "s3cret")
	ctx := context.Background()
	models := parseModels(t, modelSource)
	if err := store.Migrate(ctx, models); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.Migrate(ctx, models); err != nil {
		t.Fatalf("second migrate must be a no-op: %v", err)
	}
	user := models[0]

	rec, err := store.Insert(ctx, user, map[string]any{
		"name":   "ada",
		"age":    36.0,
		"active": true,
		"token":  "abc",
		"meta":   map[string]any{"role": "admin"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec["id"] != int64(1) || rec["name"] != "ada" || rec["age"] != int64(36) || rec["active"] != true {
		t.Fatalf("unexpected record %#v", rec)
	}
	if rec["token"] != "abc" || rec["score"] != nil {
		t.Fatalf("unexpected secret or optional value %#v", rec)
	}
	if meta, ok := rec["meta"].(map[string]any); !ok || meta["role"] != "admin" {
		t.Fatalf("unexpected json field %#v", rec["meta"])
	}

	if _, err := store.Insert(ctx, user, map[string]any{"name": "bob", "active": false}); err != nil {
		t.Fatalf("insert bob: %v", err)
	}
	got, err := store.Get(ctx, user, "2")
	if err != nil || got["name"] != "bob" || got["active"] != false {
		t.Fatalf("unexpected get result %#v, %v", got, err)
	}
	all, err := store.List(ctx, user)
	if err != nil || len(all) != 2 || all[0]["name"] != "ada" {
		t.Fatalf("unexpected list %#v, %v", all, err)
	}

	note, err := store.Insert(ctx, models[1], map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("insert note: %v", err)
	}
	id, _ := note[ImplicitKey].(string)
	if len(id) != 36 {
		t.Fatalf("expected generated uuid key, got %#v", note)
	}
}

func TestSecretFieldsAreSealed(t *testing.T) {
	store := newTestStore(t, "s3cret")
	ctx := context.Background()
	models := parseModels(t, modelSource)
	if err := store.Migrate(ctx, models); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := store.Insert(ctx, models[0], map[string]any{"name": "x", "active": true, "token": "plain"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var stored string
	if err := store.db.QueryRowContext(ctx, `SELECT token FROM "user" WHERE id = 1`).Scan(&stored); err != nil {
		t.Fatalf("raw select: %v", err)
	}
	if stored == "plain" || stored == "" {
		t.Fatalf("expected sealed token, got %q", stored)
	}
}

func TestInsertValidation(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	models := parseModels(t, modelSource)
	if err := store.Migrate(ctx, models); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cases := []map[string]any{
		{"name": "x", "active": true, "nickname": "y"},
		{"active": true},
		{"name": "x", "active": true, "age": "old"},
	}
	for _, rec := range cases {
		if _, err := store.Insert(ctx, models[0], rec); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord for %v, got %v", rec, err)
		}
	}
	if _, err := store.Get(ctx, models[0], 42); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNetworkDriverConnectFailure(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverMySQL} {
		_, err := New(Config{Driver: driver, Host: "127.0.0.1", Port: 1, Username: "svcl", Database: "svcl"})
		if err == nil {
			t.Fatalf("%s: expected connect error for closed port", driver)
		}
		if !strings.Contains(err.Error(), "open "+driver+" database") {
			t.Fatalf("%s: unexpected error %v", driver, err)
		}
	}
}

func TestColumnType(t *testing.T) {
	cases := map[string]string{
		"int": "INTEGER", "bool": "INTEGER", "number": "REAL",
		"string": "TEXT", "json": "TEXT", "uuid": "TEXT",
	}
	for typ, expected := range cases {
		if got := ColumnType(typ); got != expected {
			t.Fatalf("ColumnType(%s) = %s, expected %s", typ, got, expected)
		}
	}
}
