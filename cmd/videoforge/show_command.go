package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type submissionDetail struct {
	ID               int64         `json:"id"`
	UserID           string        `json:"userId"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	SourcePath       string        `json:"sourcePath"`
	GenerateCaptions bool          `json:"generateCaptions"`
	GenerateBroll    bool          `json:"generateBroll"`
	CreatedAt        string        `json:"createdAt"`
	Assets           []assetDetail `json:"assets"`
}

type assetDetail struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	StorageKey   string `json:"storageKey"`
	IntegrityTag string `json:"integrityTag"`
	PublicURL    string `json:"publicUrl"`
	CreatedAt    string `json:"createdAt"`
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <submissionID>",
		Short: "Show a submission and its stored assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid submission id %q", args[0])
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			var sub submissionDetail
			if err := client.get(cmd.Context(), fmt.Sprintf("/api/submissions/%d", id), &sub); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submission %d: %s\n", sub.ID, sub.Title)
			fmt.Fprintf(out, "  User:     %s\n", sub.UserID)
			fmt.Fprintf(out, "  Source:   %s\n", sub.SourcePath)
			fmt.Fprintf(out, "  Captions: %s  B-roll: %s\n", yesNo(sub.GenerateCaptions), yesNo(sub.GenerateBroll))

			if len(sub.Assets) == 0 {
				fmt.Fprintln(out, "No stored assets")
				return nil
			}
			rows := make([][]string, 0, len(sub.Assets))
			for _, a := range sub.Assets {
				location := a.StorageKey
				if a.PublicURL != "" {
					location = a.PublicURL
				}
				rows = append(rows, []string{a.Kind, location, a.IntegrityTag})
			}
			fmt.Fprintln(out, renderTable(
				[]tableColumn{{title: "Kind"}, {title: "Location"}, {title: "Integrity"}},
				rows,
			))
			return nil
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
