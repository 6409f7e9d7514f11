// Package runs holds the read-only commands: logs, stats and reports.
package runs

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/crucial707/chaos-scheduler/cmd/cli/client"
	"github.com/crucial707/chaos-scheduler/cmd/cli/config"
	"github.com/crucial707/chaos-scheduler/cmd/cli/output"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/spf13/cobra"
)

func InitRuns(rootCmd *cobra.Command) {
	reportsCmd := &cobra.Command{
		Use:   "reports",
		Short: "Run success reports",
	}
	reportsCmd.AddCommand(summaryCmd(), historyCmd())

	rootCmd.AddCommand(logsCmd(), statsCmd(), reportsCmd)
}

// ==========================
// LOGS
// ==========================
func logsCmd() *cobra.Command {
	var (
		experimentID, targetID int
		status, action         string
		since, until           string
		limit, offset          int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show run records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if experimentID > 0 {
				q.Set("experiment_id", strconv.Itoa(experimentID))
			}
			if targetID > 0 {
				q.Set("target_id", strconv.Itoa(targetID))
			}
			for k, v := range map[string]string{"status": status, "action": action, "since": since, "until": until} {
				if v != "" {
					q.Set(k, v)
				}
			}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			var recs []models.RunRecord
			if err := client.Get(cmd.Context(), "/logs?"+q.Encode(), &recs); err != nil {
				return err
			}
			if config.JSONOutput() {
				return output.PrintJSON(cmd.OutOrStdout(), recs)
			}
			rows := make([][]interface{}, 0, len(recs))
			for _, r := range recs {
				exp := "ad-hoc"
				if r.ExperimentID != nil {
					exp = strconv.Itoa(*r.ExperimentID)
				}
				msg := r.Detail
				if r.Error != "" {
					msg = r.Error
				}
				rows = append(rows, []interface{}{r.ID, output.Time(&r.StartedAt), r.TargetName, r.Action, exp, r.Status, r.Attempts, msg})
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"ID", "Started", "Target", "Action", "Experiment", "Status", "Attempts", "Detail"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&experimentID, "experiment", 0, "only runs of this experiment")
	cmd.Flags().IntVar(&targetID, "target", 0, "only runs against this target")
	cmd.Flags().StringVar(&status, "status", "", "success or failure")
	cmd.Flags().StringVar(&action, "action", "", "stop, start or restart")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 lower bound on start time")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 upper bound on start time")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}

// ==========================
// STATS
// ==========================
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show target, experiment and run counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s struct {
				Targets         int            `json:"targets"`
				TargetsByType   map[string]int `json:"targets_by_type"`
				Experiments     int            `json:"experiments"`
				ExperimentsLive int            `json:"experiments_live"`
				Runs            int            `json:"runs"`
				Unpersisted     int            `json:"runs_unpersisted"`
			}
			if err := client.Get(cmd.Context(), "/stats", &s); err != nil {
				return err
			}
			if config.JSONOutput() {
				return output.PrintJSON(cmd.OutOrStdout(), s)
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"Metric", "Value"}, [][]interface{}{
				{"targets", s.Targets},
				{"servers", s.TargetsByType["server"]},
				{"containers", s.TargetsByType["container"]},
				{"experiments", s.Experiments},
				{"active experiments", s.ExperimentsLive},
				{"runs", s.Runs},
				{"runs awaiting persistence", s.Unpersisted},
			})
			return nil
		},
	}
}

// ==========================
// REPORTS
// ==========================
func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Totals and success rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s struct {
				Total        int            `json:"total"`
				Success      int            `json:"success"`
				Failure      int            `json:"failure"`
				SuccessRate  float64        `json:"success_rate"`
				ByTargetType map[string]int `json:"by_target_type"`
				ByAction     map[string]int `json:"by_action"`
			}
			if err := client.Get(cmd.Context(), "/reports/summary", &s); err != nil {
				return err
			}
			if config.JSONOutput() {
				return output.PrintJSON(cmd.OutOrStdout(), s)
			}
			rows := [][]interface{}{
				{"total", s.Total},
				{"success", s.Success},
				{"failure", s.Failure},
				{"success rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100)},
			}
			for _, a := range []models.Action{models.ActionStop, models.ActionStart, models.ActionRestart} {
				rows = append(rows, []interface{}{"action " + string(a), s.ByAction[string(a)]})
			}
			for _, t := range []models.TargetType{models.TargetServer, models.TargetContainer} {
				rows = append(rows, []interface{}{"type " + string(t), s.ByTargetType[string(t)]})
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"Metric", "Value"}, rows)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Per-day success and failure counts (UTC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []struct {
				Date    string `json:"date"`
				Success int    `json:"success"`
				Failure int    `json:"failure"`
			}
			if err := client.Get(cmd.Context(), fmt.Sprintf("/reports/history?days=%d", days), &list); err != nil {
				return err
			}
			if config.JSONOutput() {
				return output.PrintJSON(cmd.OutOrStdout(), list)
			}
			rows := make([][]interface{}, 0, len(list))
			for _, d := range list {
				rows = append(rows, []interface{}{d.Date, d.Success, d.Failure})
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"Date", "Success", "Failure"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days, 1 to 90")
	return cmd
}
