package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/internal/config"
	"github.com/xkilldash9x/surveyfill/internal/fill"
	"github.com/xkilldash9x/surveyfill/internal/locator"
	"github.com/xkilldash9x/surveyfill/internal/ranking"
	"github.com/xkilldash9x/surveyfill/internal/regexguard"
	"github.com/xkilldash9x/surveyfill/internal/store"
	"github.com/xkilldash9x/surveyfill/internal/survey"
)

// engines holds the components every command builds on.
type engines struct {
	Repo      *store.Repository
	Guard     *regexguard.Guard
	Resolver  *locator.Resolver
	Generator *locator.Generator
	Ranking   *ranking.Engine
	Detector  *survey.Detector
	Scanner   *fill.Scanner
	Executor  *fill.Executor
	Recorder  *fill.Recorder

	release func()
}

// Close releases the storage backend.
func (e *engines) Close() {
	if e.release != nil {
		e.release()
	}
}

// buildEngines opens the configured store and wires the engines over it.
func buildEngines(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engines, error) {
	kv, release, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	repo := store.NewRepository(kv, store.LimitsFromConfig(cfg.Storage()), logger)
	guard := regexguard.New(regexguard.OptionsFromConfig(cfg.Regex()), logger)
	gen := locator.NewGenerator(logger)
	rank := ranking.NewEngine(guard, repo, logger)

	return &engines{
		Repo:      repo,
		Guard:     guard,
		Resolver:  locator.NewResolver(guard, logger),
		Generator: gen,
		Ranking:   rank,
		Detector:  survey.NewDetector(logger),
		Scanner:   fill.NewScanner(gen, rank, logger),
		Executor:  fill.NewExecutor(logger),
		Recorder:  fill.NewRecorder(repo, logger),
		release:   release,
	}, nil
}
