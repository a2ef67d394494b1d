package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var title string
	var description string
	var captions bool
	var broll bool
	var process bool

	cmd := &cobra.Command{
		Use:   "submit <video-path>",
		Short: "Register a video for enhancement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path %q: %w", args[0], err)
			}
			if title == "" {
				title = filepath.Base(source)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}

			var created struct {
				ID int64 `json:"id"`
			}
			body := map[string]any{
				"userId":           userID,
				"title":            title,
				"description":      description,
				"sourcePath":       source,
				"generateCaptions": captions,
				"generateBroll":    broll,
			}
			if err := client.post(cmd.Context(), "/api/submissions", body, &created); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submission %d created\n", created.ID)

			if !process {
				fmt.Fprintf(out, "Start it with `videoforge process %d`\n", created.ID)
				return nil
			}

			rootID, err := startProcessing(cmd, client, created.ID, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Processing started, run %s\n", rootID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the submission")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Submission title (defaults to the file name)")
	cmd.Flags().StringVar(&description, "description", "", "Submission description")
	cmd.Flags().BoolVar(&captions, "captions", false, "Burn captions into the final video")
	cmd.Flags().BoolVar(&broll, "broll", false, "Overlay generated b-roll clips")
	cmd.Flags().BoolVar(&process, "process", false, "Start processing immediately")
	cmd.MarkFlagRequired("user")
	return cmd
}
