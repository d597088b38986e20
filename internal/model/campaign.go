package model

// CampaignStatus 活动展示状态，与广播状态机解耦
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusScheduled CampaignStatus = "SCHEDULED"
	CampaignStatusRunning   CampaignStatus = "RUNNING"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusCancelled CampaignStatus = "CANCELLED"
)

// Campaign 外呼营销活动
type Campaign struct {
	BaseModel
	AgentID string         `gorm:"type:varchar(64);not null;index:idx_campaigns_agent" json:"agentId"`
	Name    string         `gorm:"type:varchar(128);not null" json:"name"`
	Status  CampaignStatus `gorm:"type:varchar(16);not null;default:'DRAFT'" json:"status"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// LeadCustomFieldIntake 活动声明的线索自定义字段
type LeadCustomFieldIntake struct {
	BaseModel
	CampaignID int64  `gorm:"not null;uniqueIndex:idx_intakes_campaign_key" json:"campaignId"`
	Key        string `gorm:"type:varchar(64);not null;uniqueIndex:idx_intakes_campaign_key" json:"key"`
	Label      string `gorm:"type:varchar(128);not null;default:''" json:"label"`
	Required   bool   `gorm:"not null;default:false" json:"required"`
}

func (LeadCustomFieldIntake) TableName() string {
	return "lead_custom_field_intakes"
}
