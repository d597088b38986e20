package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"WaBroadcast/internal/model"
	"WaBroadcast/internal/model/dto"
	"WaBroadcast/internal/repository"
	"WaBroadcast/pkg/clock"
	pkgerrors "WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/logger"
)

// BroadcastService 广播控制面：启动、暂停、恢复、取消、修改设置和查询状态。
// 所有写操作都基于读取时的版本号做 CAS，并发修改返回 Conflict。
type BroadcastService struct {
	store repository.Store
	clock clock.Clock
}

func NewBroadcastService(store repository.Store, clk clock.Clock) *BroadcastService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &BroadcastService{store: store, clock: clk}
}

// Start 启动广播，不存在时先创建 DRAFT 广播
func (s *BroadcastService) Start(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error) {
	now := s.clock.Now()
	return s.transition(ctx, agentID, campaignID, true, "start", func(b *model.Broadcast) (model.CampaignStatus, error) {
		if err := b.Start(now); err != nil {
			return "", err
		}
		if b.StartAt != nil && b.StartAt.After(now) {
			return model.CampaignStatusScheduled, nil
		}
		return model.CampaignStatusRunning, nil
	})
}

func (s *BroadcastService) Pause(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error) {
	return s.transition(ctx, agentID, campaignID, false, "pause", func(b *model.Broadcast) (model.CampaignStatus, error) {
		return "", b.Pause()
	})
}

func (s *BroadcastService) Resume(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error) {
	return s.transition(ctx, agentID, campaignID, false, "resume", func(b *model.Broadcast) (model.CampaignStatus, error) {
		return "", b.Resume()
	})
}

// Cancel 只在领取边界生效，已领取的线索仍会记录结果
func (s *BroadcastService) Cancel(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error) {
	now := s.clock.Now()
	return s.transition(ctx, agentID, campaignID, false, "cancel", func(b *model.Broadcast) (model.CampaignStatus, error) {
		if err := b.Cancel(now); err != nil {
			return "", err
		}
		return model.CampaignStatusCancelled, nil
	})
}

// UpdateSettings 修改间隔、开始时间和模板。RUNNING 时任何组合都返回 SettingsLocked。
func (s *BroadcastService) UpdateSettings(ctx context.Context, agentID string, campaignID int64, patch model.SettingsPatch) (*dto.BroadcastSnapshot, error) {
	return s.transition(ctx, agentID, campaignID, true, "update_settings", func(b *model.Broadcast) (model.CampaignStatus, error) {
		if b.Status != model.BroadcastStatusRunning && patch.SelectedTemplateID.Valid {
			if err := s.checkTemplate(ctx, agentID, patch.SelectedTemplateID.Value); err != nil {
				return "", err
			}
		}
		return "", b.ApplySettings(patch)
	})
}

// EnsureSettingsEditable 只检查归属和锁定状态，不修改任何数据。
// 请求体无法解析时先用它判断，RUNNING 的广播总是返回 SettingsLocked。
func (s *BroadcastService) EnsureSettingsEditable(ctx context.Context, agentID string, campaignID int64) error {
	if _, err := s.ownedCampaign(ctx, agentID, campaignID); err != nil {
		return err
	}
	b, err := s.store.GetBroadcastByCampaign(ctx, campaignID)
	switch {
	case errors.Is(err, pkgerrors.BroadcastNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load broadcast: %w", err)
	}
	if b.Status == model.BroadcastStatusRunning {
		return pkgerrors.SettingsLocked
	}
	return nil
}

func (s *BroadcastService) checkTemplate(ctx context.Context, agentID string, templateID int64) error {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, pkgerrors.TemplateNotFound) {
			return pkgerrors.Wrap(pkgerrors.InvalidSettings, "selected template does not exist")
		}
		return fmt.Errorf("load template: %w", err)
	}
	if tpl.AgentID != "" && tpl.AgentID != agentID {
		return pkgerrors.Wrap(pkgerrors.InvalidSettings, "selected template belongs to another agent")
	}
	return nil
}

// GetStatus 活动状态、广播快照和线索分布。广播尚未创建时返回 DRAFT 快照。
func (s *BroadcastService) GetStatus(ctx context.Context, agentID string, campaignID int64) (*dto.StatusResponse, error) {
	campaign, err := s.ownedCampaign(ctx, agentID, campaignID)
	if err != nil {
		return nil, err
	}

	b, err := s.store.GetBroadcastByCampaign(ctx, campaignID)
	switch {
	case errors.Is(err, pkgerrors.BroadcastNotFound):
		b = model.NewBroadcast(campaignID)
	case err != nil:
		return nil, fmt.Errorf("load broadcast: %w", err)
	}

	counts, err := s.store.LeadCounts(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}

	return &dto.StatusResponse{
		Campaign: dto.CampaignView{
			ID:     strconv.FormatInt(campaign.ID, 10),
			Name:   campaign.Name,
			Status: string(campaign.Status),
		},
		Broadcast: dto.NewBroadcastSnapshot(b),
		Leads:     counts,
	}, nil
}

func (s *BroadcastService) ownedCampaign(ctx context.Context, agentID string, campaignID int64) (*model.Campaign, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, pkgerrors.CampaignNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.AgentID != agentID {
		return nil, pkgerrors.Forbidden
	}
	return campaign, nil
}

func (s *BroadcastService) loadBroadcast(ctx context.Context, campaignID int64, create bool) (*model.Broadcast, error) {
	b, err := s.store.GetBroadcastByCampaign(ctx, campaignID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pkgerrors.BroadcastNotFound) {
		return nil, fmt.Errorf("load broadcast: %w", err)
	}
	if !create {
		return nil, err
	}

	b = model.NewBroadcast(campaignID)
	if err := s.store.CreateBroadcast(ctx, b); err != nil {
		// 并发创建时读取胜者
		if errors.Is(err, pkgerrors.Conflict) {
			return s.store.GetBroadcastByCampaign(ctx, campaignID)
		}
		return nil, fmt.Errorf("create broadcast: %w", err)
	}
	return b, nil
}

func (s *BroadcastService) transition(
	ctx context.Context,
	agentID string,
	campaignID int64,
	create bool,
	op string,
	apply func(b *model.Broadcast) (model.CampaignStatus, error),
) (*dto.BroadcastSnapshot, error) {
	if _, err := s.ownedCampaign(ctx, agentID, campaignID); err != nil {
		return nil, err
	}
	b, err := s.loadBroadcast(ctx, campaignID, create)
	if err != nil {
		return nil, err
	}

	from := b.Status
	expected := b.Version
	campaignStatus, err := apply(b)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateBroadcast(ctx, repository.BroadcastUpdate{
		Broadcast:       b,
		CampaignStatus:  campaignStatus,
		ExpectedVersion: expected,
	}); err != nil {
		if errors.Is(err, pkgerrors.Conflict) {
			return nil, err
		}
		return nil, fmt.Errorf("save broadcast: %w", err)
	}

	logger.Logger.Info("Broadcast control operation applied",
		zap.String("op", op),
		zap.String("agent_id", agentID),
		zap.Int64("campaign_id", campaignID),
		zap.Int64("broadcast_id", b.ID),
		zap.String("from", string(from)),
		zap.String("to", string(b.Status)),
	)

	// 重新读取以返回计数器等控制面不写的字段
	fresh, err := s.store.GetBroadcast(ctx, b.ID)
	if err != nil {
		return dto.NewBroadcastSnapshot(b), nil
	}
	return dto.NewBroadcastSnapshot(fresh), nil
}
