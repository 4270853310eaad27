package main

import (
	"context"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/coldvault/vaultengine/internal/engine"
	"github.com/coldvault/vaultengine/internal/vconfig"
	"github.com/coldvault/vaultengine/internal/vlog"
	"github.com/coldvault/vaultengine/internal/walker"
)

// progressLogInterval is how often the run command logs each active
// worker's current file/directory, the CLI's rendering of upload.cc's
// per-thread status table.
const progressLogInterval = 30 * time.Second

// nolint:gochecknoglobals
var runCommand = app.Command("run", "Start watching configured roots and uploading changes continuously.")

func init() {
	runCommand.Action(runRun)
}

func runRun(*kingpin.ParseContext) error {
	cfg, err := vconfig.Load(*configPath)
	if err != nil {
		fail("load config: %v", err)
	}

	ctx := rootContext()

	m, err := engine.New(ctx, cfg)
	if err != nil {
		fail("start engine: %v", err)
	}
	defer m.Close() //nolint:errcheck

	okColor.Fprintf(stdout, "vaultup running, watching %d root(s)\n", len(cfg.Roots)) //nolint:errcheck

	go logProgress(ctx, m)

	if err := m.Start(ctx); err != nil {
		fail("engine stopped: %v", err)
	}

	return nil
}

func logProgress(ctx context.Context, m *engine.Manager) {
	log := vlog.GetContextLoggerFunc("vaultup")

	ticker := time.NewTicker(progressLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, root := range m.ProgressInfo() {
				for _, w := range root.Workers {
					if w.State == walker.WorkerIdle {
						continue
					}

					log(ctx).Infow("worker progress",
						"root", root.Path, "worker", w.WorkerID,
						"state", w.State.String(), "path", w.Path, "bytes_done", w.BytesDone)
				}
			}
		}
	}
}
