package svcl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BuiltinKind names one member of the closed set of builtins the language knows about.
type BuiltinKind string

const (
	BuiltinLen    BuiltinKind = "len"
	BuiltinUpper  BuiltinKind = "upper"
	BuiltinLower  BuiltinKind = "lower"
	BuiltinNumber BuiltinKind = "number"
	BuiltinString BuiltinKind = "string"

	BuiltinSum BuiltinKind = "sum"
	BuiltinAvg BuiltinKind = "avg"
	BuiltinMin BuiltinKind = "min"
	BuiltinMax BuiltinKind = "max"

	BuiltinConfigSet BuiltinKind = "config_set"
	BuiltinConfigGet BuiltinKind = "config_get"
	BuiltinConfigHas BuiltinKind = "config_has"
	BuiltinEnv       BuiltinKind = "env"

	BuiltinHTTPGet     BuiltinKind = "http_get"
	BuiltinHTTPGetJSON BuiltinKind = "http_get_json"
	BuiltinJSONParse   BuiltinKind = "json_parse"
	BuiltinJSONGet     BuiltinKind = "json_get"
	BuiltinHTMLSelect  BuiltinKind = "html_select"
	BuiltinDateParse   BuiltinKind = "date_parse"

	BuiltinVec       BuiltinKind = "vec"
	BuiltinTensorAdd BuiltinKind = "tensor_add"
	BuiltinTensorDot BuiltinKind = "tensor_dot"

	BuiltinDFFromCSV BuiltinKind = "df_from_csv"
	BuiltinDFHead    BuiltinKind = "df_head"
	BuiltinDFSelect  BuiltinKind = "df_select"

	BuiltinLinregFit     BuiltinKind = "linreg_fit"
	BuiltinLinregPredict BuiltinKind = "linreg_predict"

	BuiltinCacheSet    BuiltinKind = "cache_set"
	BuiltinCacheGet    BuiltinKind = "cache_get"
	BuiltinCacheDelete BuiltinKind = "cache_delete"

	BuiltinModelInsert BuiltinKind = "model_insert"
	BuiltinModelGet    BuiltinKind = "model_get"
	BuiltinModelList   BuiltinKind = "model_list"

	BuiltinOpenAISetAPIKey       BuiltinKind = "openai_set_api_key"
	BuiltinOpenAISetSystemPrompt BuiltinKind = "openai_set_system_prompt"
	BuiltinOpenAIChat            BuiltinKind = "openai_chat"
	BuiltinOpenAIChatJSON        BuiltinKind = "openai_chat_json"
	BuiltinOpenAIMCPCall         BuiltinKind = "openai_mcp_call"
)

var builtinKinds = []BuiltinKind{
	BuiltinLen, BuiltinUpper, BuiltinLower, BuiltinNumber, BuiltinString,
	BuiltinSum, BuiltinAvg, BuiltinMin, BuiltinMax,
	BuiltinConfigSet, BuiltinConfigGet, BuiltinConfigHas, BuiltinEnv,
	BuiltinHTTPGet, BuiltinHTTPGetJSON, BuiltinJSONParse, BuiltinJSONGet, BuiltinHTMLSelect, BuiltinDateParse,
	BuiltinVec, BuiltinTensorAdd, BuiltinTensorDot,
	BuiltinDFFromCSV, BuiltinDFHead, BuiltinDFSelect,
	BuiltinLinregFit, BuiltinLinregPredict,
	BuiltinCacheSet, BuiltinCacheGet, BuiltinCacheDelete,
	BuiltinModelInsert, BuiltinModelGet, BuiltinModelList,
	BuiltinOpenAISetAPIKey, BuiltinOpenAISetSystemPrompt, BuiltinOpenAIChat, BuiltinOpenAIChatJSON, BuiltinOpenAIMCPCall,
}

var builtinKindSet = func() map[BuiltinKind]struct{} {
	set := make(map[BuiltinKind]struct{}, len(builtinKinds))
	for _, k := range builtinKinds {
		set[k] = struct{}{}
	}
	return set
}()

// BuiltinKinds returns every builtin kind in declaration order.
func BuiltinKinds() []BuiltinKind {
	out := make([]BuiltinKind, len(builtinKinds))
	copy(out, builtinKinds)
	return out
}

func ParseBuiltinKind(name string) (BuiltinKind, bool) {
	k := BuiltinKind(strings.TrimSpace(name))
	_, ok := builtinKindSet[k]
	return k, ok
}

func (k BuiltinKind) Valid() bool {
	_, ok := builtinKindSet[k]
	return ok
}

// FailurePolicy decides what a builtin failure does to the evaluation.
type FailurePolicy int

const (
	// FailurePropagate aborts the evaluation with a BUILTIN_FAILURE RuntimeError.
	FailurePropagate FailurePolicy = iota
	// FailureAbsorb turns the failure into the string "<name> error: <cause>".
	FailureAbsorb
)

func (p FailurePolicy) String() string {
	if p == FailureAbsorb {
		return "absorb"
	}
	return "propagate"
}

// Arity is an inclusive argument-count range. A negative Max means variadic.
type Arity struct {
	Min int
	Max int
}

func Exactly(n int) Arity        { return Arity{Min: n, Max: n} }
func AtLeast(n int) Arity        { return Arity{Min: n, Max: -1} }
func Between(min, max int) Arity { return Arity{Min: min, Max: max} }

func (a Arity) Accepts(n int) bool {
	if n < a.Min {
		return false
	}
	return a.Max < 0 || n <= a.Max
}

func (a Arity) String() string {
	switch {
	case a.Max < 0:
		return fmt.Sprintf("at least %d", a.Min)
	case a.Min == a.Max:
		return fmt.Sprintf("%d", a.Min)
	}
	return fmt.Sprintf("%d to %d", a.Min, a.Max)
}

type BuiltinFunc func(ctx context.Context, args []Value) (Value, error)

type Builtin struct {
	Kind   BuiltinKind
	Arity  Arity
	Policy FailurePolicy
	Invoke BuiltinFunc
}

// Capabilities is the builtin table handed to the evaluator.
type Capabilities interface {
	Lookup(name string) (Builtin, bool)
}

type noCapabilities struct{}

func (noCapabilities) Lookup(string) (Builtin, bool) { return Builtin{}, false }

// NoBuiltins is a Capabilities with nothing registered.
var NoBuiltins Capabilities = noCapabilities{}

type RegistryOptions struct {
	AllowOverride bool
	Frozen        bool
}

// BuiltinRegistry is a goroutine-safe Capabilities implementation restricted to BuiltinKinds.
type BuiltinRegistry struct {
	mu       sync.RWMutex
	builtins map[BuiltinKind]Builtin
	opts     RegistryOptions
}

func NewBuiltinRegistry() *BuiltinRegistry {
	return &BuiltinRegistry{builtins: make(map[BuiltinKind]Builtin)}
}

func (r *BuiltinRegistry) SetOptions(opts RegistryOptions) {
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
}

func (r *BuiltinRegistry) Options() RegistryOptions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

func (r *BuiltinRegistry) Freeze() {
	r.mu.Lock()
	r.opts.Frozen = true
	r.mu.Unlock()
}

func (r *BuiltinRegistry) Unfreeze() {
	r.mu.Lock()
	r.opts.Frozen = false
	r.mu.Unlock()
}

func (r *BuiltinRegistry) Register(b Builtin) error {
	if !b.Kind.Valid() {
		return &RuntimeError{Code: ErrCodeRegistry, Message: fmt.Sprintf("unknown builtin kind %q", b.Kind)}
	}
	if b.Invoke == nil {
		return &RuntimeError{Code: ErrCodeRegistry, Message: "invalid builtin registration: " + string(b.Kind)}
	}
	if b.Arity.Min < 0 || (b.Arity.Max >= 0 && b.Arity.Max < b.Arity.Min) {
		return &RuntimeError{Code: ErrCodeRegistry, Message: fmt.Sprintf("invalid arity for builtin %s", b.Kind)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.Frozen {
		return &RuntimeError{Code: ErrCodeRegistry, Message: "cannot register " + string(b.Kind), Cause: ErrRegistryFrozen}
	}
	if _, exists := r.builtins[b.Kind]; exists && !r.opts.AllowOverride {
		return &RuntimeError{Code: ErrCodeRegistry, Message: "builtin already exists: " + string(b.Kind)}
	}
	r.builtins[b.Kind] = b
	return nil
}

// MustRegister panics on registration failure. Intended for package initialization.
func (r *BuiltinRegistry) MustRegister(builtins ...Builtin) *BuiltinRegistry {
	for _, b := range builtins {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *BuiltinRegistry) Unregister(kind BuiltinKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.Frozen {
		return &RuntimeError{Code: ErrCodeRegistry, Message: "cannot unregister " + string(kind), Cause: ErrRegistryFrozen}
	}
	delete(r.builtins, kind)
	return nil
}

func (r *BuiltinRegistry) Lookup(name string) (Builtin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builtins[BuiltinKind(name)]
	return b, ok
}

// Kinds lists the registered kinds sorted by name.
func (r *BuiltinRegistry) Kinds() []BuiltinKind {
	r.mu.RLock()
	out := make([]BuiltinKind, 0, len(r.builtins))
	for k := range r.builtins {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
