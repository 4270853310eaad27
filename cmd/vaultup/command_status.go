package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/coldvault/vaultengine/internal/vconfig"
)

// nolint:gochecknoglobals
var statusCommand = app.Command("status", "Print the current configuration and cache location.")

func init() {
	statusCommand.Action(runStatus)
}

func runStatus(*kingpin.ParseContext) error {
	cfg, err := vconfig.Load(*configPath)
	if err != nil {
		fail("load config: %v", err)
	}

	okColor.Fprintf(stdout, "device:     %s\n", cfg.DeviceName)  //nolint:errcheck
	okColor.Fprintf(stdout, "api host:   %s\n", cfg.APIHost)     //nolint:errcheck
	okColor.Fprintf(stdout, "cache:      %s\n", cfg.CachePath)   //nolint:errcheck
	okColor.Fprintf(stdout, "workers:    %d\n", cfg.Workers)     //nolint:errcheck
	okColor.Fprintf(stdout, "roots (%d):\n", len(cfg.Roots))     //nolint:errcheck

	for _, r := range cfg.Roots {
		okColor.Fprintf(stdout, "  - %s\n", r) //nolint:errcheck
	}

	if _, err := os.Stat(cfg.CachePath); err != nil {
		warnColor.Fprintf(stdout, "cache file not yet created: %v\n", err) //nolint:errcheck
	}

	return nil
}
