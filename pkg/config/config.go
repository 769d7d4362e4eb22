package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/oarkflow/bcl"
	"github.com/oarkflow/json"
	"gopkg.in/yaml.v3"

	"github.com/oarkflow/svcl"
	"github.com/oarkflow/svcl/pkg/storage"
)

const (
	EnvName             = "SVCL_ENV"
	DefaultEnv          = "dev"
	DefaultOpenAIModel  = "gpt-4.1-mini"
	DefaultOpenAIURL    = "https://api.openai.com/v1"
	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheCost    = 1 << 26
	DefaultCacheCounter = 1e5
)

// Formats lists the supported extensions in discovery order.
var Formats = []string{"json", "yaml", "yml", "bcl", "toml"}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port" toml:"port"`
	TLS      bool   `json:"tls" yaml:"tls" toml:"tls"`
	CertFile string `json:"cert_file" yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file" toml:"key_file"`
	// Reload is a cron spec; when set the source is re-parsed on that schedule.
	Reload string `json:"reload" yaml:"reload" toml:"reload"`
}

type TypesConfig struct {
	Functions map[string]svcl.FunctionType `json:"functions" yaml:"functions" toml:"functions"`
}

type SecretsConfig struct {
	// Env maps a global name to the environment variable holding its value.
	Env map[string]string `json:"env" yaml:"env" toml:"env"`
}

type StorageConfig struct {
	Driver           string `json:"driver" yaml:"driver" toml:"driver"`
	Path             string `json:"path" yaml:"path" toml:"path"`
	Host             string `json:"host" yaml:"host" toml:"host"`
	Port             int    `json:"port" yaml:"port" toml:"port"`
	Username         string `json:"username" yaml:"username" toml:"username"`
	Password         string `json:"password" yaml:"password" toml:"password"`
	Database         string `json:"database" yaml:"database" toml:"database"`
	EncryptionKeyEnv string `json:"encryption_key_env" yaml:"encryption_key_env" toml:"encryption_key_env"`
}

type OpenAIConfig struct {
	Model        string `json:"model" yaml:"model" toml:"model"`
	BaseURL      string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKeyEnv    string `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
}

type CacheConfig struct {
	NumCounters int64  `json:"num_counters" yaml:"num_counters" toml:"num_counters"`
	MaxCost     int64  `json:"max_cost" yaml:"max_cost" toml:"max_cost"`
	TTL         string `json:"ttl" yaml:"ttl" toml:"ttl"`
}

type AuthConfig struct {
	JWTSecretEnv   string   `json:"jwt_secret_env" yaml:"jwt_secret_env" toml:"jwt_secret_env"`
	ProtectedPaths []string `json:"protected_paths" yaml:"protected_paths" toml:"protected_paths"`
	AllowMissingOn []string `json:"allow_missing_on" yaml:"allow_missing_on" toml:"allow_missing_on"`
}

// Config is the per-environment project configuration.
type Config struct {
	Server  ServerConfig   `json:"server" yaml:"server" toml:"server"`
	Types   TypesConfig    `json:"types" yaml:"types" toml:"types"`
	Values  map[string]any `json:"values" yaml:"values" toml:"values"`
	Secrets SecretsConfig  `json:"secrets" yaml:"secrets" toml:"secrets"`
	Storage StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
	OpenAI  OpenAIConfig   `json:"openai" yaml:"openai" toml:"openai"`
	Cache   CacheConfig    `json:"cache" yaml:"cache" toml:"cache"`
	Auth    *AuthConfig    `json:"auth" yaml:"auth" toml:"auth"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a config file, choosing the codec from its extension.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadString(string(raw), strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadString decodes raw config text in the named format.
func LoadString(content, format string) (*Config, error) {
	var decode func([]byte, any) error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		decode = yaml.Unmarshal
	case "json":
		decode = func(data []byte, v any) error {
			return json.Unmarshal(data, v)
		}
	case "bcl":
		decode = func(data []byte, v any) error {
			_, err := bcl.Unmarshal(data, v)
			return err
		}
	case "toml":
		decode = toml.Unmarshal
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
	var cfg Config
	if err := decode([]byte(content), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

// Discover loads config/config.<env>.<ext> under dir, where env comes from
// SVCL_ENV. It returns the defaults and an empty path when no file exists.
func Discover(dir string) (*Config, string, error) {
	env := strings.TrimSpace(os.Getenv(EnvName))
	if env == "" {
		env = DefaultEnv
	}
	for _, ext := range Formats {
		path := filepath.Join(dir, "config", fmt.Sprintf("config.%s.%s", env, ext))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		return cfg, path, err
	}
	return Default(), "", nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Values == nil {
		cfg.Values = map[string]any{}
	}
	if cfg.Types.Functions == nil {
		cfg.Types.Functions = map[string]svcl.FunctionType{}
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = DefaultOpenAIModel
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = DefaultOpenAIURL
	}
	if cfg.Cache.NumCounters <= 0 {
		cfg.Cache.NumCounters = DefaultCacheCounter
	}
	if cfg.Cache.MaxCost <= 0 {
		cfg.Cache.MaxCost = DefaultCacheCost
	}
}

// Validate checks the invariants the loaders cannot express.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.TLS && (cfg.Server.CertFile == "" || cfg.Server.KeyFile == "") {
		return fmt.Errorf("server tls requires cert_file and key_file")
	}
	if cfg.Cache.TTL != "" {
		if _, err := time.ParseDuration(cfg.Cache.TTL); err != nil {
			return fmt.Errorf("invalid cache ttl %q: %w", cfg.Cache.TTL, err)
		}
	}
	for name, fn := range cfg.Types.Functions {
		if name == "" {
			return fmt.Errorf("type annotation with empty function name")
		}
		for i, p := range fn.Params {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("function %s: parameter %d has an empty type", name, i+1)
			}
		}
	}
	if cfg.Auth != nil && cfg.Auth.JWTSecretEnv == "" {
		return fmt.Errorf("auth requires jwt_secret_env")
	}
	return nil
}

// CacheTTL returns the configured cache entry lifetime.
func (cfg *Config) CacheTTL() time.Duration {
	if d, err := time.ParseDuration(cfg.Cache.TTL); err == nil && d > 0 {
		return d
	}
	return DefaultCacheTTL
}

// Annotations returns the type-checker annotation table.
func (cfg *Config) Annotations() svcl.Annotations {
	annotations := make(svcl.Annotations, len(cfg.Types.Functions))
	for name, fn := range cfg.Types.Functions {
		annotations[name] = fn
	}
	return annotations
}

// Globals binds configured values and resolved secrets. Secrets whose
// environment variable is unset bind to the empty string.
func (cfg *Config) Globals() map[string]svcl.Value {
	globals := make(map[string]svcl.Value, len(cfg.Values)+len(cfg.Secrets.Env))
	for name, v := range cfg.Values {
		globals[name] = svcl.ValueFromJSON(v)
	}
	for name, envVar := range cfg.Secrets.Env {
		globals[name] = svcl.String(os.Getenv(envVar))
	}
	return globals
}

// MissingSecrets lists the secret names whose environment variable is unset.
func (cfg *Config) MissingSecrets() []string {
	var missing []string
	for name, envVar := range cfg.Secrets.Env {
		if _, ok := os.LookupEnv(envVar); !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// OpenAIKey resolves the API key from the configured environment variable.
func (cfg *Config) OpenAIKey() string {
	if cfg.OpenAI.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(cfg.OpenAI.APIKeyEnv)
}

// StorageConfig converts the storage section, resolving the encryption key.
func (cfg *Config) StorageConfig() storage.Config {
	sc := storage.Config{
		Driver:   cfg.Storage.Driver,
		Path:     cfg.Storage.Path,
		Host:     cfg.Storage.Host,
		Port:     cfg.Storage.Port,
		Username: cfg.Storage.Username,
		Password: cfg.Storage.Password,
		Database: cfg.Storage.Database,
	}
	if cfg.Storage.EncryptionKeyEnv != "" {
		sc.EncryptionKey = os.Getenv(cfg.Storage.EncryptionKeyEnv)
	}
	return sc
}
