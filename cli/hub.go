package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rapidshare/discovery"
	"rapidshare/hub"
	"rapidshare/storage"
)

func newHubCmd(root *rootOptions) *cobra.Command {
	var (
		listen         string
		token          string
		networkAddress string
		noAdvertise    bool
	)

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Host the shared peer and transfer store",
		Long: `Start the hub: an HTTP and WebSocket front for the shared store that
devices publish presence to and record transfers in. The hub is
advertised over mDNS unless --no-advertise is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(root)
			if err != nil {
				return err
			}
			defer e.close()

			settings := e.settings.Hub
			if cmd.Flags().Changed("listen") {
				settings.Listen = listen
			}
			if cmd.Flags().Changed("token") {
				settings.Token = token
			}
			if cmd.Flags().Changed("network-address") {
				settings.NetworkAddress = networkAddress
			}
			if noAdvertise {
				settings.Advertise = false
			}
			if settings.NetworkAddress == "" {
				settings.NetworkAddress = lanAddress()
			}

			store, err := storage.OpenPath(settings.Database)
			if err != nil {
				return fmt.Errorf("open hub store: %w", err)
			}
			defer store.Close()

			ln, err := net.Listen("tcp", settings.Listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", settings.Listen, err)
			}

			if settings.Advertise {
				port := ln.Addr().(*net.TCPAddr).Port
				adv, err := discovery.Advertise(discovery.Config{Port: port})
				if err != nil {
					e.logger.Warn("mDNS advertisement failed", zap.Error(err))
				} else {
					defer adv.Stop()
					e.logger.Info("advertising hub", zap.Int("port", port))
				}
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := hub.NewServer(store, hub.Options{
				Token:          settings.Token,
				PruneAfter:     settings.PruneAfter.Duration,
				NetworkAddress: settings.NetworkAddress,
				Logger:         e.logger,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Hub listening on %s\n", ln.Addr())
			fmt.Fprintf(cmd.OutOrStdout(), "Store: %s\n", settings.Database)
			if settings.NetworkAddress != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "LAN group address: %s\n", settings.NetworkAddress)
			}
			return srv.Serve(ctx, ln)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from settings, \":8787\")")
	cmd.Flags().StringVar(&token, "token", "", "bearer token required on data routes")
	cmd.Flags().StringVar(&networkAddress, "network-address", "", "address reported to LAN devices on /v1/ip (default: first private IPv4)")
	cmd.Flags().BoolVar(&noAdvertise, "no-advertise", false, "do not advertise the hub over mDNS")
	return cmd
}

// lanAddress returns the first private IPv4 of this host, or "" when there
// is none.
func lanAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil && ip.IsPrivate() {
			return ip.String()
		}
	}
	return ""
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
