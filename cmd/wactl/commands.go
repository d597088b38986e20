package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"WaBroadcast/config"
	"WaBroadcast/internal/app"
	"WaBroadcast/internal/model"
	"WaBroadcast/internal/model/dto"
	"WaBroadcast/internal/repository"
	"WaBroadcast/internal/schedule"
	"WaBroadcast/pkg/clock"
	"WaBroadcast/pkg/sender"
	"WaBroadcast/pkg/snowflake"
	"WaBroadcast/pkg/token"
	"WaBroadcast/storage/database"
	"WaBroadcast/storage/mq"
)

// openApp 连接数据库装配组件；模板不走 redis 缓存
func openApp(ctx context.Context) (*app.App, func(), error) {
	shutdownRuntime, err := app.InitRuntime(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Init(); err != nil {
		shutdownRuntime(ctx)
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	if config.Cfg.DispatchMode == "queue" {
		if err := mq.Init(); err != nil {
			shutdownRuntime(ctx)
			return nil, nil, fmt.Errorf("init rabbitmq: %w", err)
		}
	}

	a, err := app.New(app.Options{
		Store:  repository.NewGormStore(database.DB()),
		Sender: sender.GetClient(),
	})
	if err != nil {
		shutdownRuntime(ctx)
		return nil, nil, err
	}

	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mq.Close(closeCtx)
		_ = database.Close(closeCtx)
		shutdownRuntime(closeCtx)
	}
	return a, closeFn, nil
}

func runTick(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, closeFn, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	report, tickErr := a.Scheduler.Tick(ctx)
	if report != nil {
		if jsonOutput {
			printJSON(report)
		} else {
			printReport(report)
		}
	}
	return tickErr
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	memory, _ := cmd.Flags().GetBool("memory")
	start, _ := cmd.Flags().GetBool("start")
	maxTicks, _ := cmd.Flags().GetInt("max-ticks")

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var req dto.SeedRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	if memory {
		return dryRun(ctx, &req, maxTicks)
	}

	a, closeFn, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := a.Seeds.Seed(ctx, &req)
	if err != nil {
		return err
	}
	printJSON(result)

	if start {
		campaignID, _ := strconv.ParseInt(result.CampaignID, 10, 64)
		snap, err := a.Broadcasts.Start(ctx, req.AgentID, campaignID)
		if err != nil {
			return err
		}
		printJSON(snap)
	}
	return nil
}

// dryRun 在内存里导入并启动广播，用假时钟逐个推进到下一个可发送时刻，直到广播结束
func dryRun(ctx context.Context, req *dto.SeedRequest, maxTicks int) error {
	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		return err
	}

	// 内存模式总是同步发送
	config.Cfg.DispatchMode = "inline"

	clk := clock.NewFake(time.Now().UTC())
	store := repository.NewMemoryStore()
	mock := sender.NewMockClient()
	a, err := app.New(app.Options{
		Store:  store,
		Sender: mock,
		Clock:  clk,
	})
	if err != nil {
		return err
	}

	result, err := a.Seeds.Seed(ctx, req)
	if err != nil {
		return err
	}
	campaignID, _ := strconv.ParseInt(result.CampaignID, 10, 64)
	if _, err := a.Broadcasts.Start(ctx, req.AgentID, campaignID); err != nil {
		return err
	}

	began := clk.Now()
	ticks := 0
	for ; ticks < maxTicks; ticks++ {
		if _, err := a.Scheduler.Tick(ctx); err != nil {
			return err
		}
		b, err := store.GetBroadcastByCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if b.Status != model.BroadcastStatusRunning {
			break
		}
		next := clk.Now().Add(time.Second)
		if eligible := b.NextEligibleAt(); eligible != nil && eligible.After(next) {
			next = *eligible
		}
		clk.Set(next)
	}

	status, err := a.Broadcasts.GetStatus(ctx, req.AgentID, campaignID)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]interface{}{
			"seed":      result,
			"ticks":     ticks,
			"simulated": clk.Now().Sub(began).String(),
			"sent":      mock.PhonesSent(),
			"status":    status,
		})
		return nil
	}

	fmt.Printf("dry run: %d ticks, %s simulated, %d sends\n", ticks, clk.Now().Sub(began), mock.CallCount())
	for i, phone := range mock.PhonesSent() {
		fmt.Printf("  %3d  %s\n", i+1, phone)
	}
	printStatus(status)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	campaignID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid campaign id %q", args[0])
	}

	a, closeFn, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	status, err := a.Broadcasts.GetStatus(ctx, agentID, campaignID)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(status)
		return nil
	}
	printStatus(status)
	return nil
}

func runToken(_ *cobra.Command, args []string) error {
	if err := token.Init(); err != nil {
		return err
	}
	accessToken, expiresAt, err := token.GenerateAgentToken(args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]string{
			"accessToken": accessToken,
			"expiresAt":   expiresAt.UTC().Format(time.RFC3339),
		})
		return nil
	}
	fmt.Println(accessToken)
	return nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printReport(r *schedule.TickReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BROADCASTS\tDUE\tCLAIMED\tRECLAIMED\tCOMPLETED\tSKIPPED\tDURATION")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%dms\n",
		r.Broadcasts, r.Due, r.Claimed, r.Reclaimed, r.Completed, r.Skipped, r.DurationMs)
	w.Flush()
	for _, e := range r.Errors {
		fmt.Fprintln(os.Stderr, "error:", e)
	}
}

func printStatus(s *dto.StatusResponse) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "campaign\t%s (%s)\t%s\n", s.Campaign.ID, s.Campaign.Name, s.Campaign.Status)
	if b := s.Broadcast; b != nil {
		fmt.Fprintf(w, "broadcast\t%s\tv%d\n", b.Status, b.Version)
		fmt.Fprintf(w, "gap\t%ds\t\n", b.MessageGapSeconds)
		fmt.Fprintf(w, "sent / failed\t%d / %d\t\n", b.TotalSent, b.TotalFailed)
		if b.LastDispatchAt != nil {
			fmt.Fprintf(w, "last dispatch\t%s\t\n", b.LastDispatchAt.Format(time.RFC3339))
		}
		if b.NextEligibleAt != nil {
			fmt.Fprintf(w, "next eligible\t%s\t\n", b.NextEligibleAt.Format(time.RFC3339))
		}
	}

	statuses := make([]string, 0, len(s.Leads))
	for st := range s.Leads {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(w, "leads %s\t%d\t\n", st, s.Leads[st])
	}
	w.Flush()
}
