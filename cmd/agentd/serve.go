package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelagent.ai/internal/agent"
	"voxelagent.ai/internal/api"
	"voxelagent.ai/internal/catalog"
	"voxelagent.ai/internal/config"
	"voxelagent.ai/internal/journal"
	"voxelagent.ai/internal/observability"
	"voxelagent.ai/internal/world/wsclient"
)

var serveFlags struct {
	listen      string
	autoConnect bool
	journalDir  string
	disableDB   bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and, if configured, connect to the world",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.listen, "listen", "", "http listen address (overrides config)")
	f.BoolVar(&serveFlags.autoConnect, "auto-connect", false, "connect to the world on startup")
	f.StringVar(&serveFlags.journalDir, "journal-dir", "", "journal directory (overrides config)")
	f.BoolVar(&serveFlags.disableDB, "disable-db", false, "disable the sqlite journal index")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cat := catalog.Default()
	if cfg.Catalog.Override != "" {
		if cat, err = catalog.Load(cfg.Catalog.Override); err != nil {
			return err
		}
	}

	jr, err := journal.Open(journal.Options{Dir: cfg.Journal.Dir, DisableIndex: cfg.Journal.DisableDB}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := jr.Close(); err != nil {
			log.Warn("close journal", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics()
	conn := wsclient.NewConnector(wsclient.Config{
		Scheme: cfg.World.Scheme,
		Path:   cfg.World.Path,
		Logger: log,
	})
	mgr, err := agent.NewManager(agent.Config{
		Options:   cfg.AgentOptions(),
		Connector: conn,
		Catalog:   cat,
		Logger:    log,
		Metrics:   metrics,
		Recorder:  jr,
	})
	if err != nil {
		return err
	}
	defer mgr.Stop()

	apiCfg := api.Config{Agent: mgr, Metrics: metrics, Logger: log}
	if !cfg.Journal.DisableDB {
		apiCfg.History = jr
	}
	srvAPI, err := api.NewServer(apiCfg)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srvAPI.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Server.Listen), zap.String("catalog_digest", cat.Digest()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.World.AutoConnect {
		g.Go(func() error {
			p := cfg.ConnectParams()
			if err := mgr.Start(gctx, p); err != nil {
				// The operator can retry through POST /start.
				log.Error("auto-connect", zap.String("host", p.Host), zap.Int("port", p.Port), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Server.Listen = serveFlags.listen
	}
	if f.Changed("auto-connect") {
		cfg.World.AutoConnect = serveFlags.autoConnect
	}
	if f.Changed("journal-dir") {
		cfg.Journal.Dir = serveFlags.journalDir
	}
	if f.Changed("disable-db") {
		cfg.Journal.DisableDB = serveFlags.disableDB
	}
}
