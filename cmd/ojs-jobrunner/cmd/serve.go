package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-jobrunner/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig("")
		if err != nil {
			return err
		}

		app, err := server.NewApp(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("starting: %w", err)
		}
		if err := app.Run(cmd.Context()); err != nil {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
			defer cancel()
			_ = app.Shutdown(sctx)
			return err
		}
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("port", "", "admin HTTP port")
	f.String("grpc-port", "", "gRPC health port")
	f.Bool("watch", false, "reload the script when it changes")
	bindFlags(serveCmd, map[string]string{
		"port":      "port",
		"grpc_port": "grpc-port",
		"watch":     "watch",
	})
	rootCmd.AddCommand(serveCmd)
}

// bindFlags binds config keys to the named flags of cmd.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		if err := viperFor().BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", flag, err))
		}
	}
}
