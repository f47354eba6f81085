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

var statusOutputFormat string

var statusCmd = &cobra.Command{
	Use:   "status <thread-id>",
	Short: "Show a thread's current stage and pending approvals",
	Long: `Show the latest checkpoint of a thread: its stage, whether it is waiting
on a human approval, and the failure reason if it failed.

Examples:
  # Human-readable status
  threadmesh status ticket-4711

  # JSON for scripting
  threadmesh status ticket-4711 --output=json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	threadID := args[0]

	store, closeStore, err := openStore()
	if err != nil {
		return cliError(err)
	}
	defer closeStore()

	thread, err := store.GetThread(ctx, threadID)
	if err != nil {
		return cliError(fmt.Errorf("thread %s: %w", threadID, err))
	}

	latest := thread.LatestID
	if latest == "" {
		latest = thread.Origin
	}
	if latest == "" {
		fmt.Printf("thread %s has no checkpoints yet\n", threadID)
		return nil
	}

	cp, err := store.Resolve(ctx, latest)
	if err != nil {
		return cliError(err)
	}

	if statusOutputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(statusDoc(thread, cp))
	}

	printStatus(thread, cp)
	return nil
}

func statusDoc(thread *core.Thread, cp *core.Checkpoint) map[string]any {
	doc := map[string]any{
		"thread_id":     thread.ID,
		"checkpoint_id": cp.ID,
		"stage":         cp.Stage(),
		"retired":       thread.Retired,
	}
	if cp.Pending != nil {
		doc["pending_worker"] = cp.Pending.Worker
		doc["pending_reason"] = cp.Pending.Reason
	}
	if reason, ok := cp.Snapshot.Get(core.ChannelFailure); ok {
		doc["failure"] = reason
	}
	return doc
}

func printStatus(thread *core.Thread, cp *core.Checkpoint) {
	stage := cp.Stage()

	fmt.Printf("Thread:     %s\n", thread.ID)
	fmt.Printf("Checkpoint: %s\n", cp.ID)

	switch {
	case stage == core.StageFailed:
		color.New(color.FgRed, color.Bold).Printf("Stage:      %s\n", stage)
		if reason, ok := cp.Snapshot.Get(core.ChannelFailure); ok {
			fmt.Printf("Failure:    %v\n", reason)
		}
	case stage.Terminal():
		color.New(color.FgGreen).Printf("Stage:      %s\n", stage)
	case cp.IsPending():
		color.New(color.FgYellow).Printf("Stage:      %s (awaiting approval)\n", stage)
		fmt.Printf("Worker:     %s\n", cp.Pending.Worker)
		fmt.Printf("Reason:     %s\n", cp.Pending.Reason)
	default:
		color.New(color.FgCyan).Printf("Stage:      %s\n", stage)
	}

	if thread.Retired {
		color.New(color.FgYellow).Println("Retired:    yes (read-only)")
	}
}

func cliError(err error) error {
	color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, err.Error())
	return err
}
