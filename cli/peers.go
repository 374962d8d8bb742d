package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rapidshare/models"
)

func newPeersCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "peers",
		Aliases: []string{"ls"},
		Short:   "List online devices on the same network",
		Args:    cobra.NoArgs,
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
			defer ag.Close()

			if _, err := ag.Start(ctx); err != nil {
				return err
			}
			if err := ag.Directory().Refresh(ctx); err != nil {
				return err
			}

			peers := ag.Peers()
			out := cmd.OutOrStdout()
			if len(peers) == 0 {
				fmt.Fprintln(out, "No devices nearby.")
				fmt.Fprintln(out, "Run 'rapidshare up' on another device on this network.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tID\tLAST SEEN")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, deviceLabel(p.DeviceClass), p.ID, formatSeen(p.LastSeenAt))
			}
			return w.Flush()
		},
	}
}

func deviceLabel(class models.DeviceClass) string {
	if class.IsMobile() {
		return string(class) + " (phone)"
	}
	return string(class) + " (computer)"
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}
