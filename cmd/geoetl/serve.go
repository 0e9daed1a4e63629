package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mengeric/geoetl-go/api"
	"github.com/mengeric/geoetl-go/config"
	"github.com/mengeric/geoetl-go/logging"
	"github.com/mengeric/geoetl-go/orchestrator"
	"github.com/mengeric/geoetl-go/scheduler"
	"github.com/mengeric/geoetl-go/telemetry"
)

var (
	httpAddr        string
	embeddedWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (and, by default, embedded workers)",
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start queue consumers with heartbeat, poison scan and reconcile loops",
	RunE:  runWorker,
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().IntVar(&embeddedWorkers, "workers", -1, "embedded worker concurrency; 0 disables, -1 uses config")
	workerCmd.Flags().IntVar(&embeddedWorkers, "concurrency", -1, "worker concurrency; -1 uses config")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	ctx, stop := withSignalCancel(cmd.Context())
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "geoetl-api", cfg.OTel.Endpoint)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var w *orchestrator.Worker
	if n := concurrency(cfg); n > 0 {
		w = startWorker(ctx, a, n)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewHandler(a.manager),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.L().Info(ctx, "http server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			logging.L().Error(ctx, "http server failed", "err", err)
			return err
		}
	}
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	if w != nil {
		w.Wait()
	}
	logging.L().Info(context.Background(), "server stopped")
	return nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := withSignalCancel(cmd.Context())
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "geoetl-worker", cfg.OTel.Endpoint)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if cfg.Store.Driver == "memory" || cfg.Queue.Driver == "memory" {
		logging.L().Warn(ctx, "standalone worker with in-memory store or queue sees no jobs from other processes")
	}

	n := concurrency(cfg)
	if n <= 0 {
		n = orchestrator.DefaultConcurrency
	}
	w := startWorker(ctx, a, n)
	<-ctx.Done()
	w.Wait()
	logging.L().Info(context.Background(), "worker stopped", "worker_id", w.ID())
	return nil
}

func concurrency(cfg config.Config) int {
	if embeddedWorkers >= 0 {
		return embeddedWorkers
	}
	return cfg.Worker.Concurrency
}

// startWorker 启动消费者与周期任务。
func startWorker(ctx context.Context, a *app, n int) *orchestrator.Worker {
	cfg := a.cfg
	w := orchestrator.NewWorker(a.manager,
		orchestrator.WithConcurrency(n),
		orchestrator.WithPollInterval(cfg.Worker.PollInterval),
	)
	w.Start(ctx)
	scheduler.NewHeartbeat(w.ID(), w, cfg.Worker.HeartbeatEvery).Start(ctx)
	scheduler.NewPoison(a.manager.PoisonMonitor(), cfg.Poison.ScanEvery).Start(ctx)
	scheduler.NewReconcile(orchestrator.NewReconciler(a.manager, cfg.Reconcile.StaleAfter, 0), cfg.Reconcile.Every).Start(ctx)
	return w
}
