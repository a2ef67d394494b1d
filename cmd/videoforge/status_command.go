package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

type statusResponse struct {
	Healthy bool              `json:"healthy"`
	Queue   queueStats        `json:"queue"`
	Checks  map[string]string `json:"checks"`
}

type queueStats struct {
	Added      int64 `json:"added"`
	Waiting    int64 `json:"waiting"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Stalled    int64 `json:"stalled"`
	Total      int64 `json:"total"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and queue summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var status statusResponse
			if err := client.get(cmd.Context(), "/api/status", &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if status.Healthy {
				fmt.Fprintln(out, "Daemon healthy")
			} else {
				fmt.Fprintln(out, "Daemon unhealthy")
			}

			rows := [][]string{
				{"added", strconv.FormatInt(status.Queue.Added, 10)},
				{"waiting", strconv.FormatInt(status.Queue.Waiting, 10)},
				{"processing", strconv.FormatInt(status.Queue.Processing, 10)},
				{"completed", strconv.FormatInt(status.Queue.Completed, 10)},
				{"failed", strconv.FormatInt(status.Queue.Failed, 10)},
				{"stalled", strconv.FormatInt(status.Queue.Stalled, 10)},
				{"total", strconv.FormatInt(status.Queue.Total, 10)},
			}
			fmt.Fprintln(out, renderTable(
				[]tableColumn{{title: "Status"}, {title: "Count", numeric: true}},
				rows,
			))

			if len(status.Checks) > 0 {
				names := make([]string, 0, len(status.Checks))
				for name := range status.Checks {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(out, "  %s: %s\n", name, status.Checks[name])
				}
			}
			return nil
		},
	}
}
