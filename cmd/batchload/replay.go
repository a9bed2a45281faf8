package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-batchtx/pkg/changelog"
)

var replayCmd = &cobra.Command{
	Use:   "replay <changelog-dir>",
	Short: "Print the commits recorded in a changelog",
	Long: `Print every commit recorded in a changelog directory written by
'batchload run --changelog'.

Examples:
  batchload replay ./log
  batchload replay --json ./log`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := filepath.Join(args[0], changelog.FileName)

	return changelog.Replay(path, func(r changelog.Record) error {
		if jsonOut {
			return printJSON(out, r)
		}
		ev := r.Event
		fmt.Fprintf(out, "%6d  %s  %s  mutations=%d nodes=%d edges=%d node_changes=%d edge_changes=%d labels=%v\n",
			r.LSN,
			time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
			ev.CommitID,
			ev.Mutations,
			len(ev.CreatedNodes),
			len(ev.CreatedEdges),
			len(ev.NodeChanges),
			len(ev.EdgeChanges),
			ev.Labels(),
		)
		return nil
	})
}
