package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/server"
	"github.com/openjobspec/ojs-jobrunner/internal/sink"
)

var (
	testJSON  string
	testApply bool
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run every cron job once, or feed a JSON file to every subscription",
	Long: `test runs each cron job once and prints what it returns. With --json the
file is delivered to every subscription job instead. Output is only printed
unless --apply is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig("debug")
		if err != nil {
			return err
		}
		defs, err := server.LoadJobs(cfg)
		if err != nil {
			return err
		}

		var out sink.Sink
		if testApply {
			s, closeFn, err := server.OpenSink(cmd.Context(), cfg.DB, logger)
			if err != nil {
				return err
			}
			defer closeFn()
			out = s
		}

		d := server.NewDispatcher(cfg, server.NewSandbox(cfg, logger, nil), nil, out, nil, logger)
		if err := d.Register(defs, cfg.NATS.Subscribe); err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		if testJSON == "" {
			var failed int
			for _, j := range d.Registry().CronJobs() {
				res, err := d.Trigger(cmd.Context(), j.Name)
				if err != nil {
					return err
				}
				if !printResult(w, core.KindCron, res) {
					failed++
				}
			}
			return failures(failed)
		}

		payload, err := os.ReadFile(testJSON)
		if err != nil {
			return fmt.Errorf("reading %s: %w", testJSON, err)
		}
		var failed int
		for _, j := range d.Registry().Subscriptions() {
			res, err := d.Preview(cmd.Context(), j.Name, payload)
			if err != nil {
				return err
			}
			if !printResult(w, core.KindSubscription, res) {
				failed++
				continue
			}
			if stmt := sink.Terminate(res.Output); out != nil && stmt != "" {
				if err := out.Apply(cmd.Context(), stmt); err != nil {
					return err
				}
			}
		}
		return failures(failed)
	},
}

func init() {
	testCmd.Flags().StringVar(&testJSON, "json", "", "JSON file delivered to every subscription job")
	testCmd.Flags().BoolVar(&testApply, "apply", false, "apply the output to the configured database")
	rootCmd.AddCommand(testCmd)
}

func printResult(w io.Writer, kind string, res core.HandlerResult) bool {
	fmt.Fprintf(w, "-- %s %s (%s, %s)\n", kind, res.Job, res.Outcome(), res.Duration.Round(time.Microsecond))
	if res.Err != nil {
		fmt.Fprintf(w, "-- error: %v\n", res.Err)
		return false
	}
	if res.Output != "" {
		fmt.Fprintln(w, sink.Terminate(res.Output))
	}
	return true
}

func failures(n int) error {
	if n > 0 {
		return fmt.Errorf("%d jobs failed", n)
	}
	return nil
}
