package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/internal/model"
	"WaBroadcast/internal/repository"
	"WaBroadcast/pkg/clock"
	pkgerrors "WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/metrics"
	"WaBroadcast/pkg/sender"
	"WaBroadcast/utils"
)

const (
	reasonConfig   = "config"
	reasonDelivery = "delivery"
)

// Executor 执行一次已领取线索的发送：渲染模板、调用发送方、记录结果
type Executor struct {
	store    repository.Store
	renderer TemplateRenderer
	sender   sender.Client
	clock    clock.Clock
}

func NewExecutor(store repository.Store, renderer TemplateRenderer, client sender.Client, clk clock.Clock) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Executor{store: store, renderer: renderer, sender: client, clock: clk}
}

// Execute 只返回存储错误。投递失败和模板问题都记录为一次失败尝试；
// 领取已过期的任务直接丢弃。
func (e *Executor) Execute(ctx context.Context, job model.DispatchJob) error {
	log := logger.Logger.With(
		zap.Int64("broadcast_id", job.BroadcastID),
		zap.Int64("lead_id", job.LeadID),
	)

	lead, err := e.store.GetLead(ctx, job.LeadID)
	if err != nil {
		if errors.Is(err, pkgerrors.LeadNotFound) {
			log.Warn("Dispatch job references missing lead, dropping")
			return nil
		}
		return fmt.Errorf("load lead: %w", err)
	}
	if lead.Status != model.LeadStatusSending || lead.ClaimToken != job.ClaimToken {
		log.Debug("Dispatch job claim is stale, dropping",
			zap.String("lead_status", lead.Status))
		return nil
	}

	broadcast, err := e.store.GetBroadcast(ctx, job.BroadcastID)
	if err != nil {
		return fmt.Errorf("load broadcast: %w", err)
	}

	outcome := repository.Outcome{
		BroadcastID: job.BroadcastID,
		LeadID:      job.LeadID,
		ClaimToken:  job.ClaimToken,
	}

	payload, err := e.render(ctx, broadcast, lead)
	switch {
	case err == nil:
		e.send(ctx, log, lead, payload, &outcome)
	case isConfigError(err):
		log.Warn("Template unusable, recording failed attempt",
			zap.String("reason", reasonConfig),
			zap.Error(err))
		metrics.RecordSend(ctx, config.Cfg.SenderProvider, reasonConfig, 0)
		outcome.ErrorReason = err.Error()
	default:
		// 领取保持 SENDING，超时后会被重新领取
		return fmt.Errorf("render template: %w", err)
	}

	outcome.At = e.clock.Now()
	result, err := e.store.RecordOutcome(ctx, outcome)
	if err != nil {
		if errors.Is(err, repository.ErrStaleClaim) {
			log.Info("Lead was re-claimed before outcome was recorded, dropping outcome")
			return nil
		}
		return fmt.Errorf("record outcome: %w", err)
	}

	metrics.RecordOutcome(ctx, result.Lead.Status)
	if result.Exhausted {
		log.Warn("Lead exhausted all attempts",
			zap.Int("attempts", result.Lead.AttemptsMade),
			zap.String("last_error", result.Lead.LastError))
	}
	return nil
}

func (e *Executor) render(ctx context.Context, b *model.Broadcast, lead *model.Lead) (model.TemplatePayload, error) {
	if b.SelectedTemplateID == nil {
		return model.TemplatePayload{}, pkgerrors.Wrap(pkgerrors.TemplateNotFound, "broadcast has no selected template")
	}
	return e.renderer.Render(ctx, *b.SelectedTemplateID, lead.Variables())
}

func (e *Executor) send(ctx context.Context, log *zap.Logger, lead *model.Lead, payload model.TemplatePayload, outcome *repository.Outcome) {
	started := time.Now()
	res, err := e.sender.Send(ctx, lead.PhoneNumber, payload)
	elapsed := time.Since(started).Seconds()

	provider := config.Cfg.SenderProvider
	if res != nil && res.Provider != "" {
		provider = res.Provider
	}

	if err != nil {
		log.Warn("Message send failed",
			zap.String("phone", utils.MaskPhone(lead.PhoneNumber)),
			zap.String("reason", reasonDelivery),
			zap.String("provider", provider),
			zap.Error(err))
		metrics.RecordSend(ctx, provider, reasonDelivery, elapsed)
		outcome.ErrorReason = pkgerrors.Wrap(pkgerrors.SendFailure, err.Error()).Error()
		return
	}

	metrics.RecordSend(ctx, provider, "", elapsed)
	outcome.Success = true
	outcome.ProviderMessageID = res.ProviderMessageID
	log.Debug("Message sent",
		zap.String("provider", provider),
		zap.String("provider_message_id", res.ProviderMessageID),
		zap.String("template_id", strconv.FormatInt(payload.TemplateID, 10)))
}

func isConfigError(err error) bool {
	return errors.Is(err, pkgerrors.TemplateNotFound) || errors.Is(err, pkgerrors.RenderError)
}
