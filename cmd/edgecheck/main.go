package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/edgecheck/edgecheck/internal/checkcli"
	"github.com/edgecheck/edgecheck/internal/config"
	"github.com/edgecheck/edgecheck/internal/events"
	"github.com/edgecheck/edgecheck/internal/health"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/internal/metrics"
	"github.com/edgecheck/edgecheck/internal/runtime"
	"github.com/edgecheck/edgecheck/internal/server"
	"github.com/edgecheck/edgecheck/internal/store"
)

const (
	shutdownTimeout   = 3 * time.Second
	minSweepInterval  = time.Minute
	catalogFailWindow = 5 * time.Minute
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "check":
		err = checkcli.Run(ctx, os.Args[2:], checkcli.Dependencies{})
	case "serve":
		err = serve(ctx, os.Args[2:])
	case "init-config":
		err = initConfig(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if !errors.Is(err, checkcli.ErrValidationFailed) {
			fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		}
		os.Exit(1)
	}
}

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default $EDGECHECK_CONFIG or "+config.DefaultConfigPath+")")
	listen := fs.String("listen", "", "Listen address (overrides server.listen)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Resolve(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	logger := logging.New(runtime.LogOptions(cfg.Log))
	logger.WithFields(logrus.Fields{
		"listen":      cfg.Server.Listen,
		"max_runs":    cfg.Server.MaxConcurrentRuns,
		"session_ttl": cfg.Server.SessionTTL,
	}).Info("edgecheck starting")

	metricsStore := metrics.NewStore()
	checker := health.NewChecker(metricsStore, cfg.Server.MaxConcurrentRuns, catalogFailWindow)

	rt, err := runtime.New(cfg,
		runtime.WithLogger(logger),
		runtime.WithRecorder(events.NewMulti(metricsStore, checker)),
	)
	if err != nil {
		return fmt.Errorf("init diagnostics: %w", err)
	}
	defer rt.Close()

	registry := store.NewRegistry(store.Dependencies{
		Factory:  rt.NewSession,
		TTL:      cfg.Server.SessionTTL,
		Recorder: metricsStore.SessionRecorder(),
	})

	srv := server.New(server.Config{
		Addr:              cfg.Server.Listen,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
	}, server.Dependencies{
		Logger:   logger,
		Registry: registry,
		Metrics:  metricsStore,
		Health:   checker,
	})

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		return registry.Run(groupCtx, sweepInterval(cfg.Server.SessionTTL))
	})

	grp.Go(func() error {
		return listenAndServe(groupCtx, srv, logger)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		return err
	}

	logger.Info("edgecheck stopped")
	return nil
}

func listenAndServe(ctx context.Context, srv *server.Server, logger logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("api listening on http://%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func initConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing file")

	if err := fs.Parse(args); err != nil {
		return err
	}
	path := config.DefaultConfigPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Write(path, config.Default()); err != nil {
		return err
	}
	fmt.Printf("wrote default configuration to %s\n", path)
	return nil
}

// sweepInterval checks for idle sessions a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < minSweepInterval {
		return minSweepInterval
	}
	return interval
}

func printUsage() {
	fmt.Println("edgecheck - Emby and Cloudflare connection diagnostics")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  edgecheck check [--config path] [--samples n] [--json] [--validate-only] [--verbose] <link>")
	fmt.Println("  edgecheck serve [--config path] [--listen addr]")
	fmt.Println("  edgecheck init-config [--force] [path]")
}
