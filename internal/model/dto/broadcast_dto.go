package dto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
)

// ========== Broadcast 相关 DTO ==========

// UpdateSettingsRequest PATCH /campaigns/:id/settings。
// 未出现的字段保持不变；startAt、selectedTemplateId 显式传 null 表示清空。
type UpdateSettingsRequest struct {
	MessageGapSeconds  *int           `json:"messageGapSeconds" validate:"omitempty,min=0"`
	StartAt            NullableString `json:"startAt"`
	SelectedTemplateID NullableString `json:"selectedTemplateId"`
}

// NullableString 区分字段缺失、null 和有值。数字字面量按原文保存。
type NullableString struct {
	Value string
	Set   bool
	Valid bool
}

func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		n.Valid = false
		n.Value = ""
		return nil
	}
	if len(data) > 0 && data[0] != '"' {
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return err
		}
		n.Value, n.Valid = num.String(), true
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// DecodeUpdateSettings 解析请求体，保留 null 与缺失的区别
func DecodeUpdateSettings(body []byte) (*UpdateSettingsRequest, error) {
	var req UpdateSettingsRequest
	if len(bytes.TrimSpace(body)) == 0 {
		return &req, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.InvalidRequest, err.Error())
	}
	return &req, nil
}

// ToPatch 转换为状态机使用的部分更新
func (r *UpdateSettingsRequest) ToPatch() (model.SettingsPatch, error) {
	var patch model.SettingsPatch
	patch.MessageGapSeconds = r.MessageGapSeconds

	if r.StartAt.Set {
		if !r.StartAt.Valid {
			patch.StartAt = model.Null[time.Time]()
		} else {
			t, err := time.Parse(time.RFC3339, strings.TrimSpace(r.StartAt.Value))
			if err != nil {
				return patch, pkgerrors.Wrap(pkgerrors.InvalidSettings, "startAt must be an RFC3339 timestamp")
			}
			patch.StartAt = model.Some(t.UTC())
		}
	}

	if r.SelectedTemplateID.Set {
		if !r.SelectedTemplateID.Valid {
			patch.SelectedTemplateID = model.Null[int64]()
		} else {
			id, err := strconv.ParseInt(strings.TrimSpace(r.SelectedTemplateID.Value), 10, 64)
			if err != nil || id <= 0 {
				return patch, pkgerrors.Wrap(pkgerrors.InvalidSettings, "selectedTemplateId must be a template id")
			}
			patch.SelectedTemplateID = model.Some(id)
		}
	}
	return patch, nil
}

// BroadcastSnapshot 控制接口返回的广播状态
type BroadcastSnapshot struct {
	StartAt            *time.Time `json:"startAt"`
	LastDispatchAt     *time.Time `json:"lastDispatchAt"`
	NextEligibleAt     *time.Time `json:"nextEligibleAt"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	SelectedTemplateID *string    `json:"selectedTemplateId"`
	ID                 string     `json:"id,omitempty"`
	CampaignID         string     `json:"campaignId"`
	Status             string     `json:"status"`
	MessageGapSeconds  int        `json:"messageGapSeconds"`
	TotalSent          int64      `json:"totalSent"`
	TotalFailed        int64      `json:"totalFailed"`
	Version            int64      `json:"version"`
}

func NewBroadcastSnapshot(b *model.Broadcast) *BroadcastSnapshot {
	s := &BroadcastSnapshot{
		StartAt:           b.StartAt,
		LastDispatchAt:    b.LastDispatchAt,
		StartedAt:         b.StartedAt,
		CompletedAt:       b.CompletedAt,
		CancelledAt:       b.CancelledAt,
		CampaignID:        strconv.FormatInt(b.CampaignID, 10),
		Status:            string(b.Status),
		MessageGapSeconds: b.MessageGapSeconds,
		TotalSent:         b.TotalSent,
		TotalFailed:       b.TotalFailed,
		Version:           b.Version,
	}
	if b.ID != 0 {
		s.ID = strconv.FormatInt(b.ID, 10)
	}
	if b.SelectedTemplateID != nil {
		id := strconv.FormatInt(*b.SelectedTemplateID, 10)
		s.SelectedTemplateID = &id
	}
	if b.Status == model.BroadcastStatusRunning {
		s.NextEligibleAt = b.NextEligibleAt()
	}
	return s
}

// CampaignView 状态接口中的活动信息
type CampaignView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// StatusResponse GET /campaigns/:id/status
type StatusResponse struct {
	Leads     map[string]int64   `json:"leads"`
	Broadcast *BroadcastSnapshot `json:"broadcast"`
	Campaign  CampaignView       `json:"campaign"`
}
