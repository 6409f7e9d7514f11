package experiments

import (
	"fmt"
	"time"

	"github.com/crucial707/chaos-scheduler/cmd/cli/client"
	"github.com/crucial707/chaos-scheduler/cmd/cli/config"
	"github.com/crucial707/chaos-scheduler/cmd/cli/output"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/spf13/cobra"
)

// ==========================
// Init Experiments
// ==========================
func InitExperiments(rootCmd *cobra.Command) {
	experimentsCmd := &cobra.Command{
		Use:     "experiments",
		Aliases: []string{"exp"},
		Short:   "Manage scheduled chaos experiments",
	}

	experimentsCmd.AddCommand(
		listExperimentsCmd(),
		upcomingCmd(),
		createExperimentCmd(),
		deleteExperimentCmd(),
	)

	rootCmd.AddCommand(experimentsCmd)
}

func schedule(e models.Experiment) string {
	if e.ScheduleKind == models.ScheduleRecurring {
		return "cron " + e.CronExpr
	}
	return "once " + output.Time(e.RunAt)
}

func render(cmd *cobra.Command, list []models.Experiment) error {
	if config.JSONOutput() {
		return output.PrintJSON(cmd.OutOrStdout(), list)
	}
	rows := make([][]interface{}, 0, len(list))
	for _, e := range list {
		rows = append(rows, []interface{}{e.ID, e.Name, e.TargetID, e.Action, schedule(e), output.Time(e.NextFireAt), e.Active})
	}
	output.RenderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Target", "Action", "Schedule", "Next Fire", "Active"}, rows)
	return nil
}

// ==========================
// LIST
// ==========================
func listExperimentsCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []models.Experiment
			if err := client.Get(cmd.Context(), fmt.Sprintf("/experiments?limit=%d&offset=%d", limit, offset), &list); err != nil {
				return err
			}
			return render(cmd, list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max experiments to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "experiments to skip")
	return cmd
}

// ==========================
// UPCOMING
// ==========================
func upcomingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Show active experiments in next-fire order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []models.Experiment
			if err := client.Get(cmd.Context(), fmt.Sprintf("/experiments/upcoming?limit=%d", limit), &list); err != nil {
				return err
			}
			return render(cmd, list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max experiments to show")
	return cmd
}

// ==========================
// CREATE
// ==========================
func createExperimentCmd() *cobra.Command {
	var (
		e       models.Experiment
		action  string
		at      string
		in      time.Duration
		cronStr string
	)

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Schedule a one-time or recurring experiment",
		Example: `  chaosctl experiments create "reboot web-1" --target 3 --action restart --in 10m
  chaosctl experiments create "nightly db stop" --target 4 --action stop --cron "0 2 * * *"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e.Name = args[0]
			e.Action = models.Action(action)

			set := 0
			for _, v := range []bool{at != "", in > 0, cronStr != ""} {
				if v {
					set++
				}
			}
			if set != 1 {
				return fmt.Errorf("exactly one of --at, --in or --cron is required")
			}

			switch {
			case cronStr != "":
				e.ScheduleKind = models.ScheduleRecurring
				e.CronExpr = cronStr
			case at != "":
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339, e.g. 2026-05-01T02:00:00Z")
				}
				e.ScheduleKind = models.ScheduleOnce
				e.RunAt = &t
			default:
				t := time.Now().Add(in).UTC()
				e.ScheduleKind = models.ScheduleOnce
				e.RunAt = &t
			}

			var created models.Experiment
			if err := client.Post(cmd.Context(), "/experiments", e, &created); err != nil {
				return err
			}
			if config.JSONOutput() {
				return output.PrintJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created experiment %d, next fire %s\n", created.ID, output.Time(created.NextFireAt))
			return nil
		},
	}

	cmd.Flags().IntVar(&e.TargetID, "target", 0, "target id")
	cmd.Flags().StringVar(&action, "action", "", "stop, start or restart")
	cmd.Flags().StringVar(&e.Description, "description", "", "free-form description")
	cmd.Flags().StringVar(&at, "at", "", "run once at this RFC3339 time")
	cmd.Flags().DurationVar(&in, "in", 0, "run once after this delay")
	cmd.Flags().StringVar(&cronStr, "cron", "", "recurring 5-field cron expression (UTC), e.g. \"0 2 * * *\" or @daily")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

// ==========================
// DELETE
// ==========================
func deleteExperimentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), "/experiments/"+args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Experiment %s deleted\n", args[0])
			return nil
		},
	}
}
