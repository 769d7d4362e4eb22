package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/oarkflow/svcl"
)

const yamlConfig = `server:
  port: 9090
types:
  functions:
    add:
      params: [number, number]
      result: number
values:
  greeting: hello
  limit: 3
  flags: [a, b]
secrets:
  env:
    api_token: SVCL_TEST_TOKEN
cache:
  ttl: 30s
`

const jsonConfig = `{
  "server": {"port": 8081},
  "types": {"functions": {"greet": {"params": ["string"], "result": "string"}}},
  "values": {"debug": true}
}`

const tomlConfig = `[server]
port = 7070

[types.functions.add]
params = ["int", "int"]
result = "int"

[values]
name = "svc"
`

func TestLoadStringFormats(t *testing.T) {
	cfg, err := LoadString(yamlConfig, "yaml")
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.CacheTTL() != 30*time.Second {
		t.Fatalf("unexpected yaml config %#v", cfg)
	}
	if !reflect.DeepEqual(cfg.Annotations()["add"], svcl.FunctionType{Params: []string{"number", "number"}, Result: "number"}) {
		t.Fatalf("unexpected annotations %#v", cfg.Annotations())
	}

	cfg, err = LoadString(jsonConfig, "json")
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.Server.Port != 8081 || cfg.Annotations()["greet"].Result != "string" {
		t.Fatalf("unexpected json config %#v", cfg)
	}
	if v := cfg.Globals()["debug"]; !v.Equal(svcl.Bool(true)) {
		t.Fatalf("unexpected debug global %s", v.Render())
	}

	cfg, err = LoadString(tomlConfig, "toml")
	if err != nil {
		t.Fatalf("toml: %v", err)
	}
	if cfg.Server.Port != 7070 || len(cfg.Annotations()["add"].Params) != 2 {
		t.Fatalf("unexpected toml config %#v", cfg)
	}

	if _, err := LoadString("x", "ini"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.OpenAI.Model != DefaultOpenAIModel || cfg.OpenAI.BaseURL != DefaultOpenAIURL {
		t.Fatalf("unexpected openai defaults %#v", cfg.OpenAI)
	}
	if cfg.CacheTTL() != DefaultCacheTTL || cfg.Cache.MaxCost != DefaultCacheCost {
		t.Fatalf("unexpected cache defaults %#v", cfg.Cache)
	}
	if len(cfg.Globals()) != 0 || len(cfg.Annotations()) != 0 {
		t.Fatal("expected empty globals and annotations")
	}
}

func TestGlobalsResolveSecrets(t *testing.T) {
	t.Setenv("SVCL_TEST_TOKEN", "t0ken")
	cfg, err := LoadString(yamlConfig, "yml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	globals := cfg.Globals()
	if !globals["api_token"].Equal(svcl.String("t0ken")) {
		t.Fatalf("unexpected secret %s", globals["api_token"].Render())
	}
	if !globals["limit"].Equal(svcl.Number(3)) || !globals["greeting"].Equal(svcl.String("hello")) {
		t.Fatalf("unexpected values %v", globals)
	}
	if !globals["flags"].Equal(svcl.JSON([]any{"a", "b"})) {
		t.Fatalf("unexpected list global %s", globals["flags"].Render())
	}
	if missing := cfg.MissingSecrets(); len(missing) != 0 {
		t.Fatalf("unexpected missing secrets %v", missing)
	}
	os.Unsetenv("SVCL_TEST_TOKEN")
	if missing := cfg.MissingSecrets(); !reflect.DeepEqual(missing, []string{"api_token"}) {
		t.Fatalf("expected api_token to be missing, got %v", missing)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"port":     "server:\n  port: 70000\n",
		"tls":      "server:\n  tls: true\n",
		"ttl":      "cache:\n  ttl: soon\n",
		"auth":     "auth:\n  protected_paths: [/admin]\n",
		"empty ty": "types:\n  functions:\n    f:\n      params: [\"\"]\n",
	}
	for name, src := range cases {
		if _, err := LoadString(src, "yaml"); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "config.prod.json"), []byte(jsonConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "config.dev.yaml"), []byte(yamlConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvName, "")
	cfg, path, err := Discover(dir)
	if err != nil || filepath.Base(path) != "config.dev.yaml" || cfg.Server.Port != 9090 {
		t.Fatalf("unexpected dev discovery %q %v", path, err)
	}

	t.Setenv(EnvName, "prod")
	cfg, path, err = Discover(dir)
	if err != nil || filepath.Base(path) != "config.prod.json" || cfg.Server.Port != 8081 {
		t.Fatalf("unexpected prod discovery %q %v", path, err)
	}

	t.Setenv(EnvName, "staging")
	cfg, path, err = Discover(dir)
	if err != nil || path != "" || cfg.OpenAI.Model != DefaultOpenAIModel {
		t.Fatalf("expected defaults when no file exists, got %q %v", path, err)
	}
}

func TestStorageConfigResolvesKey(t *testing.T) {
	t.Setenv("SVCL_TEST_KEY", "k")
	cfg, err := LoadString("storage:\n  driver: sqlite\n  path: data/x.db\n  encryption_key_env: SVCL_TEST_KEY\n", "yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sc := cfg.StorageConfig()
	if sc.Driver != "sqlite" || sc.Path != "data/x.db" || sc.EncryptionKey != "k" {
		t.Fatalf("unexpected storage config %#v", sc)
	}
}
