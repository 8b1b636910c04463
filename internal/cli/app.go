package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/proofstamp/internal/anchor"
	"github.com/roach88/proofstamp/internal/config"
	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/store"
)

// ErrCodeGeneric is reported for failures outside the proof error taxonomy.
const ErrCodeGeneric = "ERROR"

// app is one command's set of open components. Built per command, closed
// when the command returns.
type app struct {
	cfg    config.Config
	store  *store.Store
	ledger ledger.Client
	svc    *anchor.Service
	logger *slog.Logger

	closeLedger func()
}

// openApp loads configuration and builds the index, ledger client and
// service. Precedence: flags, then environment, then file, then defaults.
func openApp(ctx context.Context, opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.DB = opts.Database
	}

	logger := newLogger(stderr, cfg.Log, opts.Verbose)
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var storeOpts []store.Option
	if opts.Now != nil {
		storeOpts = append(storeOpts, store.WithClock(opts.Now))
	}
	logger.Debug("opening index", "path", cfg.DB)
	st, err := store.Open(cfg.DB, storeOpts...)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: st, logger: logger}
	if err := a.openLedger(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	svcOpts := []anchor.Option{
		anchor.WithLogger(logger),
		anchor.WithLocation(loc),
		anchor.WithWindow(cfg.Ledger.Window),
		anchor.WithLimits(cfg.Limits.TextBytes, cfg.Limits.FileBytes),
	}
	if opts.RequestIDs != nil {
		svcOpts = append(svcOpts, anchor.WithRequestIDs(opts.RequestIDs))
	}
	if opts.Now != nil {
		svcOpts = append(svcOpts, anchor.WithClock(opts.Now))
	}
	a.svc = anchor.New(st, a.ledger, svcOpts...)
	return a, nil
}

func (a *app) openLedger(ctx context.Context, opts *RootOptions) error {
	if opts.Ledger != nil {
		a.ledger = opts.Ledger
		return nil
	}

	switch a.cfg.Ledger.Driver {
	case config.DriverEthereum:
		c, err := ledger.DialEth(ctx, a.cfg.EthConfig(), a.logger)
		if err != nil {
			return err
		}
		a.ledger = c
		a.closeLedger = c.Close
	default:
		a.logger.Debug("using in-process memory ledger; anchors do not outlive the process")
		a.ledger = ledger.NewMemory()
	}
	return nil
}

// Close releases the ledger connection and the index.
func (a *app) Close() {
	if a.closeLedger != nil {
		a.closeLedger()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("error closing index", "error", err)
		}
	}
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// signalContext derives a context cancelled by SIGINT/SIGTERM. Cancelling an
// anchor stops the local confirmation wait only.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withApp runs fn with an open app and a formatter, reporting any error.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app, f *OutputFormatter) error) error {
	f := newFormatter(cmd, opts)

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	if err := fn(ctx, a, f); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return f.Fail(err)
	}
	return nil
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
