package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rapidshare/models"
	"rapidshare/transfer"
)

func newTransfersCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Show recent transfers sent or received by this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, root)
			if err != nil {
				return err
			}
			defer s.close()

			ag, err := s.newAgent(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			views, err := ag.Transfers(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No transfers yet.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DIR\tPEER\tNAME\tSIZE\tPROGRESS\tSTATUS\tMESSAGE")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					directionArrow(v.Direction), v.PeerName, v.DisplayName,
					sizeLabel(v), progressLabel(v), v.Status, messageLabel(v))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of ledger records to consider (default from settings)")
	return cmd
}

func sizeLabel(v transfer.View) string {
	if v.Kind == models.TransferKindText {
		return "-"
	}
	return transfer.FormatBytes(v.SizeBytes)
}

// messageLabel quotes a text transfer's content on one line.
func messageLabel(v transfer.View) string {
	if v.Kind != models.TransferKindText || v.TextContent == nil {
		return ""
	}
	return strconv.Quote(*v.TextContent)
}

func progressLabel(v transfer.View) string {
	if v.Status != models.TransferStatusActive {
		return fmt.Sprintf("%d%%", v.Progress)
	}
	return fmt.Sprintf("%d%% (%s left)", v.Progress, transfer.FormatETA(v.ETA))
}
