package model

import "time"

// 线索状态是自由字符串，调度只关心下面这几个
const (
	LeadStatusPending   = "PENDING"
	LeadStatusSending   = "SENDING"
	LeadStatusSent      = "SENT"
	LeadStatusFailed    = "FAILED"
	LeadStatusExhausted = "EXHAUSTED"
)

// DefaultMaxAttempts 线索未指定时的最大尝试次数
const DefaultMaxAttempts = 3

// Lead 外呼线索
type Lead struct {
	BaseModel
	CampaignID        int64      `gorm:"not null;index:idx_leads_claim,priority:1" json:"outboundCampaignId"`
	PhoneNumber       string     `gorm:"type:varchar(32);not null" json:"phoneNumber"`
	FirstName         string     `gorm:"type:varchar(128);not null;default:''" json:"firstName"`
	TimeZone          string     `gorm:"type:varchar(64);not null;default:''" json:"timeZone"`
	Status            string     `gorm:"type:varchar(16);not null;default:'PENDING';index:idx_leads_claim,priority:2" json:"status"`
	AttemptsMade      int        `gorm:"type:smallint;not null;default:0" json:"attemptsMade"`
	MaxAttempts       int        `gorm:"type:smallint;not null;default:3" json:"maxAttempts"`
	LastAttemptAt     *time.Time `gorm:"type:timestamptz" json:"lastAttemptAt"`
	ClaimedAt         *time.Time `gorm:"type:timestamptz" json:"claimedAt,omitempty"`
	ClaimToken        string     `gorm:"type:varchar(32);not null;default:''" json:"-"`
	LastError         string     `gorm:"type:varchar(512);not null;default:''" json:"lastError,omitempty"`
	ProviderMessageID string     `gorm:"type:varchar(128);not null;default:''" json:"providerMessageId,omitempty"`
	CustomFields      StringMap  `gorm:"type:jsonb;not null;default:'{}'" json:"customFields"`

	// Reclaimed 本次领取的是超时遗弃的 SENDING 线索，不落库
	Reclaimed bool `gorm:"-" json:"-"`
}

func (Lead) TableName() string {
	return "leads"
}

func (l *Lead) IsTerminal() bool {
	return l.Status == LeadStatusSent || l.Status == LeadStatusExhausted
}

// IsAbandoned SENDING 超过 abandonAfter 仍未记录结果
func (l *Lead) IsAbandoned(now time.Time, abandonAfter time.Duration) bool {
	return l.Status == LeadStatusSending && l.ClaimedAt != nil && !l.ClaimedAt.After(now.Add(-abandonAfter))
}

// IsClaimable PENDING，或仍有剩余次数的 FAILED，或被遗弃的 SENDING
func (l *Lead) IsClaimable(now time.Time, abandonAfter time.Duration) bool {
	switch l.Status {
	case LeadStatusPending, LeadStatusFailed:
		return l.AttemptsMade < l.MaxAttempts
	case LeadStatusSending:
		return l.IsAbandoned(now, abandonAfter)
	}
	return false
}

// HasWorkLeft 广播完成前必须等待的线索：可重试或仍在发送中
func (l *Lead) HasWorkLeft() bool {
	switch l.Status {
	case LeadStatusPending, LeadStatusFailed:
		return l.AttemptsMade < l.MaxAttempts
	case LeadStatusSending:
		return true
	}
	return false
}

// Claim 领取线索，尝试次数只在观察到结果时增加
func (l *Lead) Claim(now time.Time, token string, abandonAfter time.Duration) {
	l.Reclaimed = l.IsAbandoned(now, abandonAfter)
	l.Status = LeadStatusSending
	l.ClaimedAt = &now
	l.ClaimToken = token
}

// ApplyOutcome 记录一次发送结果，返回线索是否刚进入 EXHAUSTED
func (l *Lead) ApplyOutcome(success bool, now time.Time) (exhausted bool) {
	if l.AttemptsMade < l.MaxAttempts {
		l.AttemptsMade++
	}
	l.LastAttemptAt = &now
	l.ClaimedAt = nil
	l.ClaimToken = ""

	if success {
		l.Status = LeadStatusSent
		l.LastError = ""
		return false
	}
	if l.AttemptsMade >= l.MaxAttempts {
		l.Status = LeadStatusExhausted
		return true
	}
	l.Status = LeadStatusFailed
	return false
}

// Variables 模板渲染变量：自定义字段加上内置字段，内置字段优先
func (l *Lead) Variables() map[string]string {
	vars := make(map[string]string, len(l.CustomFields)+3)
	for k, v := range l.CustomFields {
		vars[k] = v
	}
	vars["firstName"] = l.FirstName
	vars["phoneNumber"] = l.PhoneNumber
	vars["timeZone"] = l.TimeZone
	return vars
}
