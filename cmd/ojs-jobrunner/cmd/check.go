package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/server"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the job sources and print the resolved jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig("")
		if err != nil {
			return err
		}
		defs, err := server.LoadJobs(cfg)
		if err != nil {
			return err
		}
		d := server.NewDispatcher(cfg, server.NewSandbox(cfg, logger, nil), nil, nil, nil, logger)
		if err := d.Register(defs, cfg.NATS.Subscribe); err != nil {
			return err
		}
		return printJobs(cmd.OutOrStdout(), d.Jobs())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func printJobs(w io.Writer, jobs []core.JobStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tSPEC\tTARGET\tSOURCE")
	for _, j := range jobs {
		target := j.Subject
		if j.Kind == core.KindCron {
			target = "-"
			if j.NextRun != nil {
				target = "next " + j.NextRun.Local().Format(time.DateTime)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.Kind, j.Name, j.Spec, target, j.Source)
	}
	return tw.Flush()
}
