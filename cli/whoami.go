package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rapidshare/config"
	"rapidshare/netclass"
)

func newWhoamiCmd(root *rootOptions) *cobra.Command {
	var showNetwork bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Print this device's identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(root)
			if err != nil {
				return err
			}
			defer e.close()

			identity, err := openIdentity(e)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Device ID:\t%s\n", identity.DeviceID())
			fmt.Fprintf(w, "Name:\t%s\n", identity.DeviceName())
			fmt.Fprintf(w, "Type:\t%s\n", identity.DeviceClass())
			fmt.Fprintf(w, "Data dir:\t%s\n", e.dataDir)

			if showNetwork {
				s, err := openSessionFrom(commandContext(cmd), e, identity)
				if err != nil {
					return err
				}
				defer s.closeBackend()

				network := s.classifier().Resolve(commandContext(cmd))
				fmt.Fprintf(w, "Address:\t%s\n", network.Address)
				fmt.Fprintf(w, "Group:\t%s\n", network.GroupKey)
				if network.Fallback {
					fmt.Fprintf(w, "\t(lookup failed, grouped with devices on %s)\n", netclass.FallbackAddress)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&showNetwork, "network", false, "also resolve the public address and group key")
	return cmd
}

func openIdentity(e *env) (*config.Identity, error) {
	return config.OpenIdentity(e.dataDir, "")
}
