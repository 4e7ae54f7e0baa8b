package main

import (
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/nscreview/internal/tasks"
)

var dryRun bool

var runTasksCmd = &cobra.Command{
	Use:   "run-tasks",
	Short: "Run every periodic task once: send, reconcile, notify open, notify published",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runner, err := a.taskRunner()
		if err != nil {
			return err
		}
		if dryRun {
			return printResult(runner.DryRun(cmd.Context()))
		}
		return printResult(runner.RunAll(cmd.Context()))
	},
}

// taskCmd builds a command that runs a single named task.
func taskCmd(use, short, name string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.taskRunner()
			if err != nil {
				return err
			}
			res, err := runner.Run(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}
}

func init() {
	runTasksCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report pending work without sending anything")

	rootCmd.AddCommand(runTasksCmd)
	rootCmd.AddCommand(taskCmd("send-emails", "Send queued emails through Notify", tasks.SendPending))
	rootCmd.AddCommand(taskCmd("update-statuses", "Poll Notify for emails stuck in sending", tasks.UpdateStale))
	rootCmd.AddCommand(taskCmd("notify-open", "Queue emails for consultations that opened", tasks.OpenNotifications))
	rootCmd.AddCommand(taskCmd("notify-published", "Queue emails for published decisions", tasks.DecisionNotices))
}
