package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"rapidshare/agent"
	"rapidshare/models"
	"rapidshare/transfer"
)

func newSendCmd(root *rootOptions) *cobra.Command {
	var (
		targets []string
		text    string
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "send [file...]",
		Short: "Send files or a text message to nearby devices",
		Long: `Record a transfer for every file (or the text message) and every
target device. Files are described by name and size only; their
contents are not uploaded.

Progress advances while this device is running 'rapidshare up', or
until completion with --wait.`,
		Example: `  rapidshare send --to dev-1234 report.pdf photo.jpg
  rapidshare send --to dev-1234 --to dev-5678 --text "hello"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := statFiles(args)
			if err != nil {
				return err
			}
			var textPtr *string
			if cmd.Flags().Changed("text") {
				textPtr = &text
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			for _, id := range targets {
				if _, err := ag.Select(ctx, id); err != nil {
					return err
				}
			}

			created, err := ag.Send(ctx, targets, files, textPtr)
			out := cmd.OutOrStdout()
			for _, t := range created {
				fmt.Fprintf(out, "%s  %s -> %s\n", t.ID, t.DisplayName, t.ReceiverName)
			}
			if err != nil {
				return err
			}
			if !wait {
				return nil
			}
			return waitForTransfers(ctx, ag, created)
		},
	}

	cmd.Flags().StringSliceVar(&targets, "to", nil, "target device ID (repeatable)")
	cmd.Flags().StringVar(&text, "text", "", "send a text message instead of files")
	cmd.Flags().BoolVar(&wait, "wait", false, "advance the transfers until they complete")
	return cmd
}

func statFiles(paths []string) ([]transfer.FileItem, error) {
	items := make([]transfer.FileItem, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		items = append(items, transfer.FileItem{Name: filepath.Base(p), Size: info.Size()})
	}
	return items, nil
}

// waitForTransfers runs the device until every created record has reached a
// terminal state.
func waitForTransfers(ctx context.Context, ag *agent.Agent, created []models.Transfer) error {
	pending := make(map[string]struct{}, len(created))
	for _, t := range created {
		pending[t.ID] = struct{}{}
	}
	if len(pending) == 0 {
		return nil
	}

	feed, err := ag.WatchTransfers(ctx)
	if err != nil {
		return err
	}
	defer feed.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- ag.Run(runCtx) }()

	for {
		select {
		case views, ok := <-feed.Updates():
			if !ok {
				return ctx.Err()
			}
			for _, v := range views {
				if _, ok := pending[v.ID]; ok && v.Status.Terminal() {
					delete(pending, v.ID)
				}
			}
			if len(pending) == 0 {
				cancel()
				return <-runErr
			}
		case err := <-runErr:
			if err == nil {
				err = ctx.Err()
			}
			return err
		}
	}
}
