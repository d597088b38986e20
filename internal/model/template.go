package model

// Template 消息模板，正文使用 {{ key }} 占位符
type Template struct {
	BaseModel
	AgentID   string `gorm:"type:varchar(64);not null;index" json:"agentId"`
	Name      string `gorm:"type:varchar(128);not null" json:"name"`
	Language  string `gorm:"type:varchar(16);not null;default:'en'" json:"language"`
	Body      string `gorm:"type:text;not null" json:"body"`
	MediaURL  string `gorm:"type:varchar(512);not null;default:''" json:"mediaUrl,omitempty"`
	MediaType string `gorm:"type:varchar(16);not null;default:''" json:"mediaType,omitempty"`
}

func (Template) TableName() string {
	return "templates"
}

// TemplatePayload 渲染后的消息
type TemplatePayload struct {
	TemplateID int64  `json:"templateId"`
	Language   string `json:"language"`
	Body       string `json:"body"`
	MediaURL   string `json:"mediaUrl,omitempty"`
	MediaType  string `json:"mediaType,omitempty"`
}
