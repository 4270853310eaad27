package main

import (
	"github.com/alecthomas/kingpin/v2"

	"github.com/coldvault/vaultengine/internal/authcreds"
	"github.com/coldvault/vaultengine/internal/vconfig"
)

// nolint:gochecknoglobals
var (
	configCommand     = app.Command("config", "Manage the local configuration file.")
	configInitCommand = configCommand.Command("init", "Write a template configuration with freshly generated device credentials.")
)

func init() {
	configInitCommand.Action(runConfigInit)
}

func runConfigInit(*kingpin.ParseContext) error {
	cred, err := authcreds.Generate()
	if err != nil {
		fail("generate device credentials: %v", err)
	}

	cfg := vconfig.Config{
		APIHost:   "https://api.example.com",
		CachePath: "vaultup-cache.db",
		Workers:   vconfig.DefaultWorkers,
		DeviceAuth: vconfig.Auth{
			Name:     cred.AName,
			Password: cred.APass,
		},
	}

	if err := vconfig.Save(*configPath, cfg); err != nil {
		fail("write config: %v", err)
	}

	okColor.Fprintf(stdout, "wrote %s\n", *configPath) //nolint:errcheck

	return nil
}
