package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"WaBroadcast/pkg/logger"
)

var (
	agentID    string
	jsonOutput bool
)

func main() {
	logger.Init()
	defer logger.Sync()

	rootCmd := &cobra.Command{
		Use:          "wactl",
		Short:        "Operator CLI for the broadcast dispatcher",
		Long:         `wactl 运维命令：手动执行 tick、导入活动数据、查看广播状态、签发坐席 token。`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON instead of a table")

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick against the configured database",
		Args:  cobra.NoArgs,
		RunE:  runTick,
	}

	seedCmd := &cobra.Command{
		Use:   "seed [file.json]",
		Short: "Create a campaign with template, intakes and leads from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed,
	}
	seedCmd.Flags().Bool("memory", false, "dry run: seed into an in-memory store and drain it with the mock sender")
	seedCmd.Flags().Bool("start", false, "start the broadcast after seeding")
	seedCmd.Flags().Int("max-ticks", 1000, "upper bound on ticks when draining a dry run")

	statusCmd := &cobra.Command{
		Use:   "status [campaign-id]",
		Short: "Show broadcast status and lead counts of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&agentID, "agent", "", "agent that owns the campaign (required)")
	_ = statusCmd.MarkFlagRequired("agent")

	tokenCmd := &cobra.Command{
		Use:   "token [agent-id]",
		Short: "Issue an access token for an agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}

	rootCmd.AddCommand(tickCmd, seedCmd, statusCmd, tokenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
