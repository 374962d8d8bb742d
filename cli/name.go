package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newNameCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "name [new-name]",
		Short: "Show or change this device's display name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				e, err := loadEnv(root)
				if err != nil {
					return err
				}
				defer e.close()
				identity, err := openIdentity(e)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, identity.DeviceName())
				return nil
			}

			s, err := openSession(ctx, root)
			if err != nil {
				return err
			}
			defer s.close()

			ag, err := s.newAgent(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := ag.SetName(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintf(out, "Device name is now %q\n", ag.DeviceName())
			return nil
		},
	}
}
