package checkcli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/edgecheck/edgecheck/internal/config"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/internal/report"
	"github.com/edgecheck/edgecheck/internal/runtime"
	"github.com/edgecheck/edgecheck/pkg/types"
)

// ErrValidationFailed is returned when the link does not lead to an Emby server.
var ErrValidationFailed = errors.New("server validation failed")

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Stdout     io.Writer
	Stderr     io.Writer
	HTTPClient *http.Client
	Now        func() time.Time
}

// Run executes a single diagnostic for the link given as the last argument.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	configPath := fs.String("config", "", "Path to configuration file (default $EDGECHECK_CONFIG or "+config.DefaultConfigPath+")")
	samples := fs.Int("samples", 0, "Number of latency samples (overrides config)")
	asJSON := fs.Bool("json", false, "Print the session as JSON")
	validateOnly := fs.Bool("validate-only", false, "Stop after validating the server")
	verbose := fs.Bool("verbose", false, "Log pipeline events at the configured level")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one server link")
	}
	link := strings.TrimSpace(fs.Arg(0))

	cfg, err := config.Resolve(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *samples > 0 {
		cfg.Diagnostic.SampleCount = *samples
	}

	logOpts := runtime.LogOptions(cfg.Log)
	if !*verbose {
		logOpts.Level = "warn"
	}
	logger := logging.New(logOpts)
	if cfg.Log.File == "" {
		logger.SetOutput(deps.Stderr)
	}

	rt, err := runtime.New(cfg,
		runtime.WithLogger(logger),
		runtime.WithHTTPClient(deps.HTTPClient),
		runtime.WithNow(deps.Now),
	)
	if err != nil {
		return fmt.Errorf("init diagnostics: %w", err)
	}
	defer rt.Close()

	machine := rt.NewSession("")
	snapshot, err := machine.Validate(ctx, link)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if snapshot.State == types.StateStage1Valid && !*validateOnly {
		snapshot, err = machine.Diagnose(ctx)
		if err != nil {
			return fmt.Errorf("diagnose: %w", err)
		}
	}

	if *asJSON {
		err = report.WriteJSON(deps.Stdout, snapshot)
	} else {
		err = report.WriteText(deps.Stdout, snapshot)
	}
	if err != nil {
		return err
	}

	if snapshot.State == types.StateStage1Invalid {
		return ErrValidationFailed
	}
	return nil
}
