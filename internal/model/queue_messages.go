package model

// DispatchJob 调度器领取线索后交给执行器的任务，queue 模式下经 RabbitMQ 投递
type DispatchJob struct {
	MessageID   string `json:"message_id"` // 消息唯一ID，用于幂等性检查
	ClaimToken  string `json:"claim_token"`
	ClaimedAt   string `json:"claimed_at"`
	BroadcastID int64  `json:"broadcast_id"`
	CampaignID  int64  `json:"campaign_id"`
	LeadID      int64  `json:"lead_id"`
}
