package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type jobDetail struct {
	ID              string  `json:"id"`
	RootJobID       string  `json:"rootJobId"`
	SubmissionID    int64   `json:"submissionId"`
	Stage           string  `json:"stage"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progressPercent"`
	ProgressMessage string  `json:"progressMessage"`
	ErrorMessage    string  `json:"errorMessage"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp struct {
				Jobs []jobDetail `json:"jobs"`
			}
			if err := client.get(cmd.Context(), fmt.Sprintf("/api/queue?limit=%d", limit), &resp); err != nil {
				return err
			}
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					shortID(job.ID),
					strconv.FormatInt(job.SubmissionID, 10),
					job.Stage,
					job.Status,
					fmt.Sprintf("%.0f%%", job.ProgressPercent),
					job.UpdatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]tableColumn{
					{title: "Job"},
					{title: "Submission", numeric: true},
					{title: "Stage"},
					{title: "Status"},
					{title: "Progress", numeric: true},
					{title: "Updated"},
				},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to list")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <jobID>",
		Short: "Show one job in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var job jobDetail
			if err := client.get(cmd.Context(), "/api/queue/"+args[0], &job); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:        %s\n", job.ID)
			fmt.Fprintf(out, "Run:        %s\n", job.RootJobID)
			fmt.Fprintf(out, "Submission: %d\n", job.SubmissionID)
			fmt.Fprintf(out, "Stage:      %s\n", job.Stage)
			fmt.Fprintf(out, "Status:     %s\n", job.Status)
			fmt.Fprintf(out, "Progress:   %.0f%% %s\n", job.ProgressPercent, job.ProgressMessage)
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:      %s\n", job.ErrorMessage)
			}
			return nil
		},
	}
}

// shortID truncates a job UUID for table display; `queue show` prints it in
// full.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
