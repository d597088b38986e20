package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"WaBroadcast/internal/middleware"
	"WaBroadcast/internal/model"
	"WaBroadcast/internal/model/dto"
	pkgerrors "WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/response"
)

type controlFunc func(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error)

func runControl(ctx context.Context, c *app.RequestContext, op controlFunc) {
	agentID, campaignID, ok := requestScope(ctx, c)
	if !ok {
		return
	}
	snapshot, err := op(ctx, agentID, campaignID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, snapshot)
}

// StartBroadcast 启动或重新启动广播
// POST /campaigns/:id/start
func StartBroadcast(ctx context.Context, c *app.RequestContext) {
	runControl(ctx, c, broadcasts.Start)
}

// PauseBroadcast POST /campaigns/:id/pause
func PauseBroadcast(ctx context.Context, c *app.RequestContext) {
	runControl(ctx, c, broadcasts.Pause)
}

// ResumeBroadcast POST /campaigns/:id/resume
func ResumeBroadcast(ctx context.Context, c *app.RequestContext) {
	runControl(ctx, c, broadcasts.Resume)
}

// CancelBroadcast 取消广播，已领取的线索仍会记录结果
// POST /campaigns/:id/cancel
func CancelBroadcast(ctx context.Context, c *app.RequestContext) {
	runControl(ctx, c, broadcasts.Cancel)
}

// UpdateSettings 部分更新广播设置
// PATCH /campaigns/:id/settings
func UpdateSettings(ctx context.Context, c *app.RequestContext) {
	agentID, campaignID, ok := requestScope(ctx, c)
	if !ok {
		return
	}

	patch, err := parseSettings(c.Request.Body())
	if err != nil {
		// 运行中的广播先报告锁定，与请求体内容无关
		if lockErr := broadcasts.EnsureSettingsEditable(ctx, agentID, campaignID); lockErr != nil {
			err = lockErr
		}
		response.Error(ctx, c, err)
		return
	}

	snapshot, err := broadcasts.UpdateSettings(ctx, agentID, campaignID, patch)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, snapshot)
}

// GetStatus 查询活动、广播和线索状态
// GET /campaigns/:id/status
func GetStatus(ctx context.Context, c *app.RequestContext) {
	agentID, campaignID, ok := requestScope(ctx, c)
	if !ok {
		return
	}
	status, err := broadcasts.GetStatus(ctx, agentID, campaignID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, status)
}

// requestScope 取出坐席和活动 ID，失败时已经写好响应
func requestScope(ctx context.Context, c *app.RequestContext) (string, int64, bool) {
	agentID, ok := middleware.GetAgentID(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return "", 0, false
	}
	campaignID, err := parseCampaignID(c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return "", 0, false
	}
	return agentID, campaignID, true
}

func parseSettings(body []byte) (model.SettingsPatch, error) {
	req, err := dto.DecodeUpdateSettings(body)
	if err != nil {
		return model.SettingsPatch{}, err
	}
	if err := validate.Struct(req); err != nil {
		return model.SettingsPatch{}, pkgerrors.Wrap(pkgerrors.InvalidSettings, err.Error())
	}
	return req.ToPatch()
}
