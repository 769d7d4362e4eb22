package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/oarkflow/log"
	"github.com/urfave/cli/v2"

	"github.com/oarkflow/svcl"
	"github.com/oarkflow/svcl/pkg/builtins"
	"github.com/oarkflow/svcl/pkg/config"
	"github.com/oarkflow/svcl/pkg/loader"
	"github.com/oarkflow/svcl/pkg/storage"
)

const defaultEntry = "main.svcl"

// runtime is a loaded program together with the collaborators it runs against.
type runtime struct {
	entry    string
	cfg      *config.Config
	bundle   *loader.Bundle
	state    *builtins.State
	registry *svcl.BuiltinRegistry
	store    *storage.Store
	logger   *log.Logger
}

func entryArg(c *cli.Context) string {
	if c.Args().Len() > 0 {
		return c.Args().First()
	}
	return defaultEntry
}

// loadConfig reads --config when given, otherwise discovers the per-env file
// next to the entry file.
func loadConfig(c *cli.Context, entry string) (*config.Config, error) {
	if env := c.String("env"); env != "" {
		if err := os.Setenv(config.EnvName, env); err != nil {
			return nil, err
		}
	}
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	cfg, _, err := config.Discover(filepath.Dir(entry))
	return cfg, err
}

func newRuntime(c *cli.Context, entry string) (*runtime, error) {
	logger := &log.DefaultLogger
	cfg, err := loadConfig(c, entry)
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.MissingSecrets() {
		logger.Warn().Str("global", name).Msg("secret environment variable is not set")
	}
	bundle, err := loader.Load(entry)
	if err != nil {
		return nil, err
	}
	rt := &runtime{entry: entry, cfg: cfg, bundle: bundle, logger: logger}

	if len(bundle.Program.Models) > 0 {
		rt.store, err = storage.New(cfg.StorageConfig(), storage.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := rt.store.Migrate(c.Context, sortedModels(bundle.Program)); err != nil {
			rt.close()
			return nil, err
		}
	}
	rt.state, err = builtins.NewState(
		builtins.WithAPIKey(cfg.OpenAIKey()),
		builtins.WithModel(cfg.OpenAI.Model),
		builtins.WithBaseURL(cfg.OpenAI.BaseURL),
		builtins.WithSystemPrompt(cfg.OpenAI.SystemPrompt),
		builtins.WithCache(cfg.Cache.NumCounters, cfg.Cache.MaxCost, cfg.CacheTTL()),
		builtins.WithStore(rt.store),
		builtins.WithModels(bundle.Program.Models),
		builtins.WithLogger(logger),
	)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.registry = builtins.New(rt.state)
	return rt, nil
}

func (rt *runtime) evaluatorOptions() []svcl.Option {
	return []svcl.Option{
		svcl.WithLogger(rt.logger),
		svcl.WithGlobals(rt.cfg.Globals()),
	}
}

// applyProgram prepares storage and model lookups for a reloaded program.
func (rt *runtime) applyProgram(ctx context.Context, program *svcl.Program) error {
	if len(program.Models) > 0 {
		if rt.store == nil {
			return fmt.Errorf("models were added but storage was not opened at startup; restart the server")
		}
		if err := rt.store.Migrate(ctx, sortedModels(program)); err != nil {
			return err
		}
	}
	rt.state.SetModels(program.Models)
	return nil
}

func (rt *runtime) close() {
	if rt.state != nil {
		rt.state.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

func sortedModels(program *svcl.Program) []*svcl.ModelDef {
	names := make([]string, 0, len(program.Models))
	for name := range program.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	models := make([]*svcl.ModelDef, len(names))
	for i, name := range names {
		models[i] = program.Models[name]
	}
	return models
}
