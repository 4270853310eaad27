// Command vaultup is the backup engine's command-line entry point: it
// wires a configuration file into an internal/engine.Manager and exposes
// the engine's lifecycle as kingpin subcommands.
//
// Grounded on cli/app.go's kingpin.New(name, help) + package-level app
// variable idiom, scaled down from kopia's full multi-file command set to
// the four subcommands this engine needs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/coldvault/vaultengine/internal/vlog"
)

// nolint:gochecknoglobals
var (
	app = kingpin.New("vaultup", "Continuous, content-addressed backup agent.")

	configPath = app.Flag("config", "Path to the TOML configuration file.").
			Default("vaultup.toml").String()
	verbose = app.Flag("verbose", "Enable debug logging.").Short('v').Bool()

	stdout = coloredWriter()

	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgHiRed)
)

// coloredWriter returns stdout wrapped for ANSI passthrough on Windows
// consoles, falling back to color.NoColor when stdout isn't a terminal
// (e.g. piped into a log file).
func coloredWriter() io.Writer {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	return colorable.NewColorableStdout()
}

func setupLogging() {
	cfg := zap.NewProductionConfig()
	if *verbose {
		cfg = zap.NewDevelopmentConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err) //nolint:errcheck
		os.Exit(1)
	}

	vlog.SetBase(logger.Sugar())
}

// rootContext returns a context cancelled on SIGINT/SIGTERM, the signal
// every long-running subcommand (run) and every one-shot subcommand
// (backup) honors for graceful shutdown.
func rootContext() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_ = stop // intentionally leaked: process exit tears the context down

	return ctx
}

func fail(format string, args ...interface{}) {
	errColor.Fprintf(os.Stderr, format+"\n", args...) //nolint:errcheck
	os.Exit(1)
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
}

func init() {
	app.PreAction(func(*kingpin.ParseContext) error {
		setupLogging()
		return nil
	})
}
