package dto

import "time"

// ========== Seed 相关 DTO ==========

// SeedRequest wactl seed 的输入文件
type SeedRequest struct {
	AgentID  string        `json:"agentId" validate:"required,max=64"`
	Campaign SeedCampaign  `json:"campaign"`
	Template *SeedTemplate `json:"template" validate:"omitempty"`
	Intakes  []SeedIntake  `json:"intakes" validate:"dive"`
	Leads    []SeedLead    `json:"leads" validate:"dive"`
	Settings *SeedSettings `json:"settings" validate:"omitempty"`
}

type SeedCampaign struct {
	Name string `json:"name" validate:"required,max=128"`
}

type SeedTemplate struct {
	Name      string `json:"name" validate:"required,max=128"`
	Language  string `json:"language" validate:"omitempty,max=16"`
	Body      string `json:"body" validate:"required_without=MediaURL"`
	MediaURL  string `json:"mediaUrl" validate:"omitempty,url,max=512"`
	MediaType string `json:"mediaType" validate:"omitempty,oneof=image video document"`
}

type SeedIntake struct {
	Key      string `json:"key" validate:"required,max=64"`
	Label    string `json:"label" validate:"max=128"`
	Required bool   `json:"required"`
}

type SeedLead struct {
	PhoneNumber  string            `json:"phoneNumber" validate:"required"`
	FirstName    string            `json:"firstName" validate:"max=128"`
	TimeZone     string            `json:"timeZone" validate:"max=64"`
	MaxAttempts  int               `json:"maxAttempts" validate:"omitempty,min=1,max=20"`
	CustomFields map[string]string `json:"customFields"`
}

// SeedSettings 可选的初始广播设置，selectedTemplateId 自动指向 Template
type SeedSettings struct {
	MessageGapSeconds *int       `json:"messageGapSeconds" validate:"omitempty,min=0"`
	StartAt           *time.Time `json:"startAt"`
}

// SeedResult 创建出的对象 ID
type SeedResult struct {
	CampaignID  string `json:"campaignId"`
	TemplateID  string `json:"templateId,omitempty"`
	BroadcastID string `json:"broadcastId,omitempty"`
	Leads       int    `json:"leads"`
}
