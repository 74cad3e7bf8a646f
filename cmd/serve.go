// cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/surveyfill/internal/bridge"
	"github.com/xkilldash9x/surveyfill/internal/dedup"
	"github.com/xkilldash9x/surveyfill/internal/lifecycle"
	"github.com/xkilldash9x/surveyfill/internal/observability"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the extension bridge: the command endpoint and the notification websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.SetServerAddr(addr)
			}

			eng, err := buildEngines(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			// The persisted debug preference applies from startup.
			if opts, err := eng.Repo.Options(ctx); err == nil {
				observability.SetDebug(opts.DebugMode)
			} else {
				logger.Warn("Could not read stored options", zap.Error(err))
			}

			origins := bridge.NewOriginPolicy(cfg.Server().AllowedOrigins)
			hub := bridge.NewHub(origins, logger)
			tabs := bridge.NewTabRegistry(eng.Resolver, logger)

			coord := lifecycle.New(lifecycle.Deps{
				Store:    eng.Repo,
				Detector: eng.Detector,
				Resolver: dedup.NewResolver(eng.Repo, logger),
				Executor: eng.Executor,
				Recorder: eng.Recorder,
				Tabs:     tabs,
				Notifier: hub,
			}, cfg.Autofill(), logger)
			defer coord.Close()

			dispatcher := bridge.NewDispatcher(bridge.Deps{
				Repo:        eng.Repo,
				Coordinator: coord,
				Tabs:        tabs,
				Detector:    eng.Detector,
				Guard:       eng.Guard,
				Resolver:    eng.Resolver,
				Generator:   eng.Generator,
				Ranking:     eng.Ranking,
				Scanner:     eng.Scanner,
				Executor:    eng.Executor,
				Recorder:    eng.Recorder,
			}, cfg.Autofill(), logger)
			server := bridge.NewServer(cfg.Server(), dispatcher, hub, origins, logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.ListenAndServe(gctx) })
			g.Go(func() error { return coord.RunSweeper(gctx) })
			if err := g.Wait(); err != nil {
				return fmt.Errorf("bridge stopped: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}
