// Package cmd holds the ojs-jobrunner command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/server"
)

var (
	configPath string
	v          = server.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "ojs-jobrunner",
	Short: "Run cron and NATS subscription jobs",
	Long: `ojs-jobrunner runs JavaScript and built-in jobs on cron schedules and on
NATS subjects, and writes the statements they return to a SQL database.`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "", "config file (default ./jobrunner.yaml)")
	f.StringP("script", "s", "", "JavaScript job file")
	f.String("name", "", "global subject prefix for subscriptions")
	f.String("addr", "", "NATS server URL")
	f.String("token", "", "NATS auth token")
	f.String("cred", "", "NATS user credentials file")
	f.String("cert", "", "NATS client TLS certificate")
	f.String("key", "", "NATS client TLS key")
	f.String("db", "", "output database type: sqlite3, mysql, pgx or dryrun")
	f.String("dsn", "", "output database connection string")
	f.Bool("trace", false, "log every outbound request made by handlers")

	for key, flag := range map[string]string{
		"script":         "script",
		"nats.subscribe": "name",
		"nats.url":       "addr",
		"nats.token":     "token",
		"nats.cred":      "cred",
		"nats.cert":      "cert",
		"nats.key":       "key",
		"db.type":        "db",
		"db.conn":        "dsn",
		"trace":          "trace",
	} {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", flag, err))
		}
	}
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// loadConfig reads the config file with flag and environment overrides and
// installs the configured logger as the default.
func loadConfig(level string) (*server.Config, *slog.Logger, error) {
	cfg, err := server.LoadConfigWith(v, configPath)
	if err != nil {
		return nil, nil, err
	}
	if level != "" {
		cfg.Log.Level = level
	}
	logger := server.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// viperFor exposes the shared viper instance to subcommands that bind
// their own flags.
func viperFor() *viper.Viper { return v }
