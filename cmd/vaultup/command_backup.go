package main

import (
	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"

	"github.com/coldvault/vaultengine/internal/engine"
	"github.com/coldvault/vaultengine/internal/vconfig"
)

// nolint:gochecknoglobals
var (
	backupCommand = app.Command("backup", "Run one full backup pass across all configured roots and exit.")
	backupRoot    = backupCommand.Arg("root", "Limit the run to a single root (default: all configured roots).").String()
)

func init() {
	backupCommand.Action(runBackup)
}

func runBackup(*kingpin.ParseContext) error {
	cfg, err := vconfig.Load(*configPath)
	if err != nil {
		fail("load config: %v", err)
	}

	if *backupRoot != "" {
		cfg.Roots = []string{*backupRoot}
	}

	ctx := rootContext()

	m, err := engine.New(ctx, cfg)
	if err != nil {
		fail("start engine: %v", err)
	}
	defer m.Close() //nolint:errcheck

	if err := m.RunOnce(ctx); err != nil {
		fail("backup failed: %v", err)
	}

	okColor.Fprintf(stdout, "backup complete across %s\n", humanize.Comma(int64(len(cfg.Roots)))) //nolint:errcheck

	return nil
}
