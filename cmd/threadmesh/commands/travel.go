package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var travelCmd = &cobra.Command{
	Use:   "travel <thread-id> <checkpoint-id>",
	Short: "Fork a new thread from a historical checkpoint",
	Long: `Fork a new thread whose starting state is an arbitrary historical
checkpoint of an existing thread. The source thread is never modified;
the fork gets its own id and diverges independently.

Examples:
  threadmesh travel ticket-4711 1b9a04c2-77f1-4c6e-9f0f-2a4d5e6f7a8b`,
	Args: cobra.ExactArgs(2),
	RunE: runTravel,
}

func init() {
	rootCmd.AddCommand(travelCmd)
}

func runTravel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	threadID, checkpointID := args[0], args[1]

	store, closeStore, err := openStore()
	if err != nil {
		return cliError(err)
	}
	defer closeStore()

	cp, err := store.Get(ctx, threadID, checkpointID)
	if err != nil {
		return cliError(fmt.Errorf("checkpoint %s: %w", checkpointID, err))
	}

	forkID := fmt.Sprintf("%s~%s", threadID, shortID(cp.ID))
	if _, err := store.CreateThread(ctx, forkID, cp.ID); err != nil {
		return cliError(fmt.Errorf("fork %s: %w", forkID, err))
	}

	color.New(color.FgGreen).Printf("✓ forked %s at %s\n", threadID, shortID(cp.ID))
	fmt.Printf("new thread id: %s\n", forkID)
	fmt.Println("submit an event or resume it to continue from the fork point")
	return nil
}
