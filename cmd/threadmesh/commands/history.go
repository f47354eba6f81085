package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/threadmesh/core"
)

var (
	historyLimit        int
	historyOutputFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history <thread-id>",
	Short: "Walk a thread's checkpoint chain, newest first",
	Long: `Walk the checkpoint chain of a thread from its latest checkpoint back to
the root. For threads forked with 'threadmesh travel' the walk continues
into the source thread's history.

Examples:
  # Last ten checkpoints
  threadmesh history ticket-4711 --limit 10

  # Full chain as line-delimited JSON
  threadmesh history ticket-4711 --output=json`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 0, "Maximum checkpoints to print (0 = all)")
	historyCmd.Flags().StringVarP(&historyOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	threadID := args[0]

	store, closeStore, err := openStore()
	if err != nil {
		return cliError(err)
	}
	defer closeStore()

	enc := json.NewEncoder(os.Stdout)
	h := core.NewHistory(ctx, store, threadID)

	n := 0
	for h.Next() {
		if historyLimit > 0 && n >= historyLimit {
			break
		}
		cp := h.Checkpoint()
		if historyOutputFormat == "json" {
			if err := enc.Encode(historyDoc(cp)); err != nil {
				return err
			}
		} else {
			printHistoryLine(threadID, cp)
		}
		n++
	}
	if err := h.Err(); err != nil {
		return cliError(err)
	}
	return nil
}

func historyDoc(cp *core.Checkpoint) map[string]any {
	doc := map[string]any{
		"checkpoint_id": cp.ID,
		"thread_id":     cp.ThreadID,
		"parent_id":     cp.ParentID,
		"timestamp":     cp.Meta.Timestamp,
		"writer":        cp.Meta.Writer,
		"stage":         cp.Stage(),
	}
	if d, ok := cp.Decision(); ok {
		doc["decision"] = d
	}
	if cp.Pending != nil {
		doc["pending_worker"] = cp.Pending.Worker
	}
	return doc
}

func printHistoryLine(threadID string, cp *core.Checkpoint) {
	stage := cp.Stage()

	marker := " "
	if cp.ThreadID != threadID {
		// Checkpoint inherited from the fork source.
		marker = "^"
	}

	stageText := string(stage)
	switch {
	case stage == core.StageFailed:
		stageText = color.New(color.FgRed).Sprint(stageText)
	case stage.Terminal():
		stageText = color.New(color.FgGreen).Sprint(stageText)
	case cp.IsPending():
		stageText = color.New(color.FgYellow).Sprintf("%s (pending)", stageText)
	}

	line := fmt.Sprintf("%s %s  %s  %-10s %s",
		marker, shortID(cp.ID), cp.Meta.Timestamp.Format("2006-01-02 15:04:05"), cp.Meta.Writer, stageText)
	if d, ok := cp.Decision(); ok && d.Worker != "" {
		line += color.New(color.FgCyan).Sprintf("  -> %s", d.Worker)
	}
	fmt.Println(line)
}
