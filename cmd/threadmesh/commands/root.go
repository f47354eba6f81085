// Package commands implements the threadmesh CLI: read-only inspection and
// time-travel operations against a running deployment's checkpoint store.
package commands

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hupe1980/threadmesh/checkpoint/redis"
	"github.com/hupe1980/threadmesh/config"
	"github.com/hupe1980/threadmesh/core"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "threadmesh",
	Short: "Threadmesh - checkpointed multi-agent conversation orchestrator",
	Long: `Threadmesh orchestrates multi-worker conversation threads over a durable
checkpoint store. Every step of every thread is a checkpoint; this CLI
inspects thread state and history, and forks threads from historical
checkpoints for debugging and what-if analysis.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Errors are printed by the commands
// themselves with color formatting.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "threadmesh.yml", "Path to deployment config")
}

// shortID truncates a checkpoint id for display. Ids are normally uuids,
// but hand-created ones can be shorter.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// openStore connects to the checkpoint store named in the config file. The
// CLI only works against a durable store; the in-memory store lives inside
// a single process and has nothing for an external tool to inspect.
func openStore() (core.CheckpointStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Redis == nil {
		return nil, nil, fmt.Errorf("no redis store configured in %s; the CLI requires a durable store", configPath)
	}

	store := redis.New(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return store, func() { _ = store.Close() }, nil
}
