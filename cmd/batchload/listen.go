package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-batchtx/pkg/observers"
)

var listenCmd = &cobra.Command{
	Use:   "listen <addr>",
	Short: "Receive commits forwarded by 'batchload run --forward'",
	Long: `Listen on an address and print every forwarded commit until interrupted.

Examples:
  batchload listen tcp://127.0.0.1:9400
  batchload listen --count 3 --json tcp://127.0.0.1:9400`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

var listenCount int

func init() {
	listenCmd.Flags().IntVarP(&listenCount, "count", "n", 0, "Exit after this many commits (0 = unlimited)")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	recv, err := observers.NewReceiver(args[0])
	if err != nil {
		return err
	}
	defer recv.Close()

	out := cmd.OutOrStdout()
	printInfo(out, "Listening on %s\n", args[0])

	for received := 0; listenCount == 0 || received < listenCount; received++ {
		ev, err := recv.Receive(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		if jsonOut {
			if err := printJSON(out, ev); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "commit %s: %d mutations, %d nodes created, %d edges created\n",
			ev.CommitID, ev.Mutations, len(ev.CreatedNodes), len(ev.CreatedEdges))
	}
	return nil
}
