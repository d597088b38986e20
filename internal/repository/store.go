package repository

import (
	"context"
	"errors"
	"time"

	"WaBroadcast/internal/model"
)

var (
	// ErrNotDue 广播已不在 RUNNING、未到 startAt 或间隔未满，可能已被并发的 tick 领取
	ErrNotDue = errors.New("broadcast not due")
	// ErrStaleClaim 线索已被更新的领取覆盖，本次结果丢弃
	ErrStaleClaim = errors.New("stale lead claim")
)

// Store 广播调度所需的全部持久化操作，GormStore 和 MemoryStore 都实现它
type Store interface {
	CampaignRepository
	TemplateRepository
	BroadcastRepository
	LeadRepository
}

type CampaignRepository interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	CreateCustomFieldIntakes(ctx context.Context, intakes []*model.LeadCustomFieldIntake) error
	ListCustomFieldIntakes(ctx context.Context, campaignID int64) ([]*model.LeadCustomFieldIntake, error)
}

type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t *model.Template) error
	GetTemplate(ctx context.Context, id int64) (*model.Template, error)
}

type BroadcastRepository interface {
	// CreateBroadcast 每个活动唯一，重复创建返回 Conflict
	CreateBroadcast(ctx context.Context, b *model.Broadcast) error
	GetBroadcast(ctx context.Context, id int64) (*model.Broadcast, error)
	GetBroadcastByCampaign(ctx context.Context, campaignID int64) (*model.Broadcast, error)
	ListRunningBroadcasts(ctx context.Context) ([]*model.Broadcast, error)
	// UpdateBroadcast 按版本号 CAS 写入控制字段，计数器和 lastDispatchAt 不受影响
	UpdateBroadcast(ctx context.Context, u BroadcastUpdate) error
	// CompleteIfExhausted 没有待发送、可重试或发送中的线索时 RUNNING -> COMPLETED
	CompleteIfExhausted(ctx context.Context, broadcastID int64, now time.Time) (bool, error)
}

type LeadRepository interface {
	CreateLeads(ctx context.Context, leads []*model.Lead) error
	GetLead(ctx context.Context, id int64) (*model.Lead, error)
	// ClaimNextLead 原子地为广播领取一条线索。
	// 不满足发送条件返回 ErrNotDue；没有可领取线索返回 (nil, nil)，此时 lastDispatchAt 不变。
	ClaimNextLead(ctx context.Context, req ClaimRequest) (*model.Lead, error)
	// RecordOutcome 在一个事务里写入线索结果和广播计数
	RecordOutcome(ctx context.Context, o Outcome) (*OutcomeResult, error)
	LeadCounts(ctx context.Context, campaignID int64) (map[string]int64, error)
}

// ClaimRequest 领取参数。LastDispatchAt 是调用方读取广播时看到的值，
// 广播行上的戳记只在它仍然等于该值时写入，读到同一状态的并发 tick 最多领取一次。
type ClaimRequest struct {
	Now            time.Time
	Token          string
	BroadcastID    int64
	CampaignID     int64
	AbandonAfter   time.Duration
	LastDispatchAt *time.Time
}

// BroadcastUpdate 控制面写入，CampaignStatus 为空时不修改活动状态
type BroadcastUpdate struct {
	Broadcast       *model.Broadcast
	CampaignStatus  model.CampaignStatus
	ExpectedVersion int64
}

// Outcome 一次发送尝试的结果
type Outcome struct {
	At                time.Time
	ClaimToken        string
	ProviderMessageID string
	ErrorReason       string
	BroadcastID       int64
	LeadID            int64
	Success           bool
}

type OutcomeResult struct {
	Lead      *model.Lead
	Exhausted bool
}
