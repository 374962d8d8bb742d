package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rapidshare/models"
	"rapidshare/transfer"
)

func newUpCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Announce this device and follow nearby devices and transfers",
		Long: `Bring the device online: publish presence on a heartbeat, list the
devices on the same network as they come and go, and advance transfers
this device sends. Ctrl+C marks the device offline and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, root)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			ag, err := s.newAgent(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer ag.Close()

			network, err := ag.Start(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s (%s) is up on %s\n", ag.DeviceName(), ag.DeviceID(), describeNetwork(network.Address, network.GroupKey, network.Fallback))

			feed, err := ag.WatchTransfers(ctx)
			if err != nil {
				return err
			}
			defer feed.Close()

			runErr := make(chan error, 1)
			go func() { runErr <- ag.Run(ctx) }()

			peerUpdates := ag.Directory().Updates()
			transferUpdates := feed.Updates()
			shownMessages := make(map[string]struct{})
			for {
				select {
				case peers, ok := <-peerUpdates:
					if !ok {
						peerUpdates = nil
						continue
					}
					printPeerList(out, peers)
				case views, ok := <-transferUpdates:
					if !ok {
						transferUpdates = nil
						continue
					}
					printTransferLines(out, views)
					printReceivedMessages(out, views, shownMessages)
				case err := <-runErr:
					return err
				}
			}
		},
	}
}

func describeNetwork(address, groupKey string, fallback bool) string {
	if fallback {
		return fmt.Sprintf("%s (offline fallback, group %s)", address, groupKey)
	}
	return fmt.Sprintf("%s (group %s)", address, groupKey)
}

func printPeerList(w io.Writer, peers []models.Peer) {
	if len(peers) == 0 {
		fmt.Fprintln(w, "No devices nearby")
		return
	}
	fmt.Fprintf(w, "Nearby devices (%d):\n", len(peers))
	for _, p := range peers {
		fmt.Fprintf(w, "  %-24s %-18s %s\n", p.Name, deviceLabel(p.DeviceClass), p.ID)
	}
}

func printTransferLines(w io.Writer, views []transfer.View) {
	for _, v := range views {
		if v.Status != models.TransferStatusActive {
			continue
		}
		fmt.Fprintf(w, "  %s %s %s %d%% %s/s, %s left\n",
			directionArrow(v.Direction), v.PeerName, v.DisplayName, v.Progress,
			transfer.FormatBytes(v.Speed), transfer.FormatETA(v.ETA))
	}
}

// printReceivedMessages prints each received text message once.
func printReceivedMessages(w io.Writer, views []transfer.View, shown map[string]struct{}) {
	for i := len(views) - 1; i >= 0; i-- {
		v := views[i]
		if v.Direction != transfer.DirectionReceive || v.Kind != models.TransferKindText || v.TextContent == nil {
			continue
		}
		if _, ok := shown[v.ID]; ok {
			continue
		}
		shown[v.ID] = struct{}{}
		fmt.Fprintf(w, "  <- %s: %s\n", v.PeerName, messageLabel(v))
	}
}

func directionArrow(d transfer.Direction) string {
	if d == transfer.DirectionReceive {
		return "<-"
	}
	return "->"
}
