package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"videoforge/internal/progress"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		watch    bool
		captions bool
		broll    bool
	)

	cmd := &cobra.Command{
		Use:   "process <submissionID>",
		Short: "Start the enhancement run for a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid submission id %q", args[0])
			}

			// Only flags the user actually set override the submission.
			overrides := map[string]any{}
			if cmd.Flags().Changed("captions") {
				overrides["generateCaptions"] = captions
			}
			if cmd.Flags().Changed("broll") {
				overrides["generateBroll"] = broll
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			rootID, err := startProcessing(cmd, client, id, overrides)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processing started, run %s\n", rootID)
			if !watch {
				return nil
			}
			return watchRun(cmd, client, id, rootID)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream progress until the run finishes")
	cmd.Flags().BoolVar(&captions, "captions", false, "Override the submission's caption flag for this run")
	cmd.Flags().BoolVar(&broll, "broll", false, "Override the submission's b-roll flag for this run")
	return cmd
}

func startProcessing(cmd *cobra.Command, client *apiClient, submissionID int64, overrides map[string]any) (string, error) {
	var body any
	if len(overrides) > 0 {
		body = overrides
	}
	var resp struct {
		RootJobID string `json:"rootJobId"`
	}
	path := fmt.Sprintf("/api/submissions/%d/process", submissionID)
	if err := client.post(cmd.Context(), path, body, &resp); err != nil {
		return "", err
	}
	return resp.RootJobID, nil
}

// watchRun follows the run's event stream and prints one line per update.
func watchRun(cmd *cobra.Command, client *apiClient, submissionID int64, rootID string) error {
	out := cmd.OutOrStdout()
	path := fmt.Sprintf("/api/submissions/%d/events?root=%s", submissionID, rootID)

	var streamErr error
	err := client.streamEvents(cmd.Context(), path, func(name string, data []byte) bool {
		var e progress.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return true
		}
		switch name {
		case progress.EventInitialState:
			if e.State != nil {
				for _, st := range e.State.Stages {
					fmt.Fprintf(out, "%-18s %s (%.0f%%)\n", st.Stage, st.Status, st.Percent)
				}
				if e.State.Failed {
					streamErr = fmt.Errorf("run failed: %s", e.State.Reason)
					return false
				}
				if e.State.Done {
					fmt.Fprintln(out, "Run already completed")
					return false
				}
			}
		case progress.EventActive:
			fmt.Fprintf(out, "%-18s started\n", e.Stage)
		case progress.EventProgress:
			fmt.Fprintf(out, "%-18s %3.0f%% %s\n", e.Stage, e.Percent, e.Message)
		case progress.EventCompleted:
			fmt.Fprintf(out, "%-18s done\n", e.Stage)
		case progress.EventFailed, progress.EventError:
			streamErr = fmt.Errorf("run failed at %s: %s", e.Stage, e.Reason)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if streamErr != nil {
		return streamErr
	}
	fmt.Fprintln(out, "Run completed")
	return nil
}
