package model

import (
	"time"

	"WaBroadcast/pkg/errors"
)

// BroadcastStatus 广播状态
type BroadcastStatus string

const (
	BroadcastStatusDraft     BroadcastStatus = "DRAFT"
	BroadcastStatusReady     BroadcastStatus = "READY"
	BroadcastStatusRunning   BroadcastStatus = "RUNNING"
	BroadcastStatusPaused    BroadcastStatus = "PAUSED"
	BroadcastStatusCompleted BroadcastStatus = "COMPLETED"
	BroadcastStatusCancelled BroadcastStatus = "CANCELLED"
)

// Broadcast 单个活动的发送控制对象。
// 状态迁移只做校验和内存修改，持久化由仓储层负责。
type Broadcast struct {
	BaseModel
	CampaignID         int64           `gorm:"not null;uniqueIndex" json:"campaignId"`
	Status             BroadcastStatus `gorm:"type:varchar(16);not null;default:'DRAFT';index:idx_broadcasts_status" json:"status"`
	MessageGapSeconds  int             `gorm:"not null;default:0" json:"messageGapSeconds"`
	StartAt            *time.Time      `gorm:"type:timestamptz" json:"startAt"`
	SelectedTemplateID *int64          `json:"selectedTemplateId"`
	TotalSent          int64           `gorm:"not null;default:0" json:"totalSent"`
	TotalFailed        int64           `gorm:"not null;default:0" json:"totalFailed"`
	LastDispatchAt     *time.Time      `gorm:"type:timestamptz" json:"lastDispatchAt"`
	StartedAt          *time.Time      `gorm:"type:timestamptz" json:"startedAt"`
	CompletedAt        *time.Time      `gorm:"type:timestamptz" json:"completedAt"`
	CancelledAt        *time.Time      `gorm:"type:timestamptz" json:"cancelledAt"`
	Version            int64           `gorm:"not null;default:0" json:"version"`
}

func (Broadcast) TableName() string {
	return "broadcasts"
}

// NewBroadcast 首次 start 时隐式创建
func NewBroadcast(campaignID int64) *Broadcast {
	return &Broadcast{CampaignID: campaignID, Status: BroadcastStatusDraft}
}

// Gap 两次发送之间的最小间隔
func (b *Broadcast) Gap() time.Duration {
	return time.Duration(b.MessageGapSeconds) * time.Second
}

func (b *Broadcast) CanStart() bool {
	switch b.Status {
	case BroadcastStatusDraft, BroadcastStatusReady, BroadcastStatusPaused,
		BroadcastStatusCancelled, BroadcastStatusCompleted:
		return true
	}
	return false
}

// Start 进入 RUNNING。已完成或已取消的广播可以重新启动，继续处理剩余未终结的线索。
func (b *Broadcast) Start(now time.Time) error {
	if !b.CanStart() {
		return errors.Wrap(errors.InvalidTransition, "cannot start a "+string(b.Status)+" broadcast")
	}
	b.Status = BroadcastStatusRunning
	if b.StartedAt == nil {
		b.StartedAt = &now
	}
	b.CompletedAt = nil
	b.CancelledAt = nil
	return nil
}

func (b *Broadcast) Pause() error {
	if b.Status != BroadcastStatusRunning {
		return errors.Wrap(errors.InvalidTransition, "cannot pause a "+string(b.Status)+" broadcast")
	}
	b.Status = BroadcastStatusPaused
	return nil
}

// Resume 不重置 LastDispatchAt，间隔跨暂停连续计算
func (b *Broadcast) Resume() error {
	if b.Status != BroadcastStatusPaused {
		return errors.Wrap(errors.InvalidTransition, "cannot resume a "+string(b.Status)+" broadcast")
	}
	b.Status = BroadcastStatusRunning
	return nil
}

func (b *Broadcast) Cancel(now time.Time) error {
	switch b.Status {
	case BroadcastStatusDraft, BroadcastStatusReady, BroadcastStatusRunning, BroadcastStatusPaused:
		b.Status = BroadcastStatusCancelled
		b.CancelledAt = &now
		return nil
	}
	return errors.Wrap(errors.InvalidTransition, "cannot cancel a "+string(b.Status)+" broadcast")
}

// Complete 由调度器在没有可领取线索时调用
func (b *Broadcast) Complete(now time.Time) error {
	if b.Status != BroadcastStatusRunning {
		return errors.Wrap(errors.InvalidTransition, "cannot complete a "+string(b.Status)+" broadcast")
	}
	b.Status = BroadcastStatusCompleted
	b.CompletedAt = &now
	return nil
}

// ApplySettings 应用部分更新，RUNNING 时任何字段组合都被拒绝
func (b *Broadcast) ApplySettings(p SettingsPatch) error {
	if b.Status == BroadcastStatusRunning {
		return errors.SettingsLocked
	}
	if p.MessageGapSeconds != nil && *p.MessageGapSeconds < 0 {
		return errors.Wrap(errors.InvalidSettings, "messageGapSeconds must be >= 0")
	}

	if p.MessageGapSeconds != nil {
		b.MessageGapSeconds = *p.MessageGapSeconds
	}
	if p.StartAt.Set {
		b.StartAt = p.StartAt.Ptr()
	}
	if p.SelectedTemplateID.Set {
		b.SelectedTemplateID = p.SelectedTemplateID.Ptr()
	}

	switch {
	case b.Status == BroadcastStatusDraft && b.SelectedTemplateID != nil:
		b.Status = BroadcastStatusReady
	case b.Status == BroadcastStatusReady && b.SelectedTemplateID == nil:
		b.Status = BroadcastStatusDraft
	}
	return nil
}

// IsDue 判断本轮 tick 是否可以为该广播发送一条
func (b *Broadcast) IsDue(now time.Time) bool {
	if b.Status != BroadcastStatusRunning {
		return false
	}
	if b.StartAt != nil && now.Before(*b.StartAt) {
		return false
	}
	if b.LastDispatchAt != nil && now.Sub(*b.LastDispatchAt) < b.Gap() {
		return false
	}
	return true
}

// NextEligibleAt 下一次允许发送的最早时间，nil 表示立即
func (b *Broadcast) NextEligibleAt() *time.Time {
	var next *time.Time
	if b.StartAt != nil {
		t := *b.StartAt
		next = &t
	}
	if b.LastDispatchAt != nil {
		t := b.LastDispatchAt.Add(b.Gap())
		if next == nil || t.After(*next) {
			next = &t
		}
	}
	return next
}

// SettingsPatch 设置的部分更新。
// MessageGapSeconds 不允许置空；StartAt 和 SelectedTemplateID 区分未传、显式 null 和赋值。
type SettingsPatch struct {
	MessageGapSeconds  *int
	StartAt            Optional[time.Time]
	SelectedTemplateID Optional[int64]
}

// Empty 没有任何字段
func (p SettingsPatch) Empty() bool {
	return p.MessageGapSeconds == nil && !p.StartAt.Set && !p.SelectedTemplateID.Set
}

// Optional 三态字段：Set=false 未传；Set=true 且 Valid=false 显式置空
type Optional[T any] struct {
	Value T
	Set   bool
	Valid bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true, Valid: true}
}

func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// Ptr 仅在 Set 时有意义，显式 null 返回 nil
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}
