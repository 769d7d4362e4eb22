package builtins

import (
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oarkflow/log"

	"github.com/oarkflow/svcl"
	"github.com/oarkflow/svcl/pkg/storage"
)

const (
	DefaultModel   = "gpt-4.1-mini"
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 30 * time.Second
	DefaultTTL     = 5 * time.Minute
)

// APIKeyEnvVars are consulted in order when no key was set explicitly.
var APIKeyEnvVars = []string{"SVCL_OPENAI_API_KEY", "OPENAI_API_KEY"}

// State is the mutable context shared by every builtin of one registry.
type State struct {
	mu           sync.RWMutex
	apiKey       string
	systemPrompt string
	model        string
	baseURL      string
	config       map[string]svcl.Value
	models       map[string]*svcl.ModelDef

	cache       *ristretto.Cache
	numCounters int64
	maxCost     int64
	ttl         time.Duration

	client   *http.Client
	store    *storage.Store
	breakers map[string]*CircuitBreaker
	logger   *log.Logger
}

type StateOption func(*State)

func WithAPIKey(key string) StateOption {
	return func(s *State) { s.apiKey = key }
}

func WithSystemPrompt(prompt string) StateOption {
	return func(s *State) { s.systemPrompt = prompt }
}

func WithModel(model string) StateOption {
	return func(s *State) {
		if model != "" {
			s.model = model
		}
	}
}

func WithBaseURL(baseURL string) StateOption {
	return func(s *State) {
		if baseURL != "" {
			s.baseURL = baseURL
		}
	}
}

func WithHTTPClient(client *http.Client) StateOption {
	return func(s *State) {
		if client != nil {
			s.client = client
		}
	}
}

// WithCache sizes the ristretto cache behind cache_* and http_get.
func WithCache(numCounters, maxCost int64, ttl time.Duration) StateOption {
	return func(s *State) {
		if numCounters > 0 {
			s.numCounters = numCounters
		}
		if maxCost > 0 {
			s.maxCost = maxCost
		}
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithStore backs the model_* builtins.
func WithStore(store *storage.Store) StateOption {
	return func(s *State) { s.store = store }
}

func WithModels(models map[string]*svcl.ModelDef) StateOption {
	return func(s *State) { s.models = models }
}

func WithLogger(logger *log.Logger) StateOption {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewState(opts ...StateOption) (*State, error) {
	s := &State{
		model:       DefaultModel,
		baseURL:     DefaultBaseURL,
		config:      map[string]svcl.Value{},
		models:      map[string]*svcl.ModelDef{},
		numCounters: 1e5,
		maxCost:     1 << 26,
		ttl:         DefaultTTL,
		client:      &http.Client{Timeout: DefaultTimeout},
		breakers:    map[string]*CircuitBreaker{},
		logger:      &log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: s.numCounters,
		MaxCost:     s.maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Close releases the cache.
func (s *State) Close() {
	if s != nil && s.cache != nil {
		s.cache.Close()
	}
}

func (s *State) SetAPIKey(key string) {
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
}

// APIKey returns the explicit key or the first non-empty environment key.
func (s *State) APIKey() string {
	s.mu.RLock()
	key := s.apiKey
	s.mu.RUnlock()
	if key != "" {
		return key
	}
	for _, name := range APIKeyEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func (s *State) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	s.systemPrompt = prompt
	s.mu.Unlock()
}

func (s *State) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// SetModels replaces the model table, e.g. after a program reload.
func (s *State) SetModels(models map[string]*svcl.ModelDef) {
	s.mu.Lock()
	s.models = models
	s.mu.Unlock()
}

func (s *State) lookupModel(name string) (*svcl.ModelDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[name]
	return m, ok
}

func (s *State) configSet(key string, v svcl.Value) {
	s.mu.Lock()
	s.config[key] = v
	s.mu.Unlock()
}

func (s *State) configGet(key string) (svcl.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.config[key]
	return v, ok
}

func (s *State) openAISettings() (model, baseURL, prompt string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model, s.baseURL, s.systemPrompt
}

// breakerFor returns the circuit breaker guarding rawURL's host.
func (s *State) breakerFor(rawURL string) *CircuitBreaker {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(5, 30*time.Second)
		s.breakers[host] = cb
	}
	return cb
}
