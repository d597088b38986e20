package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
)

// errNoClaimableLead 内部使用，触发回滚以免记录 lastDispatchAt
var errNoClaimableLead = errors.New("no claimable lead")

// GormStore PostgreSQL 实现。领取和结果写入走主库；列表和统计可以走只读副本。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// primary 强制主库，避免读到副本上的旧版本
func (s *GormStore) primary(ctx context.Context) *gorm.DB {
	return conn(ctx, s.db).Clauses(dbresolver.Write)
}

func (s *GormStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	return conn(ctx, s.db).Create(c).Error
}

func (s *GormStore) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	if err := s.primary(ctx).Where("id = ?", id).Take(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.CampaignNotFound
		}
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return &c, nil
}

func (s *GormStore) CreateCustomFieldIntakes(ctx context.Context, intakes []*model.LeadCustomFieldIntake) error {
	if len(intakes) == 0 {
		return nil
	}
	return conn(ctx, s.db).Create(&intakes).Error
}

func (s *GormStore) ListCustomFieldIntakes(ctx context.Context, campaignID int64) ([]*model.LeadCustomFieldIntake, error) {
	var intakes []*model.LeadCustomFieldIntake
	err := conn(ctx, s.db).Where("campaign_id = ?", campaignID).Order("id ASC").Find(&intakes).Error
	return intakes, err
}

func (s *GormStore) CreateTemplate(ctx context.Context, t *model.Template) error {
	return conn(ctx, s.db).Create(t).Error
}

func (s *GormStore) GetTemplate(ctx context.Context, id int64) (*model.Template, error) {
	var t model.Template
	if err := conn(ctx, s.db).Where("id = ?", id).Take(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.TemplateNotFound
		}
		return nil, fmt.Errorf("get template %d: %w", id, err)
	}
	return &t, nil
}

func (s *GormStore) CreateBroadcast(ctx context.Context, b *model.Broadcast) error {
	if err := conn(ctx, s.db).Create(b).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return pkgerrors.Conflict
		}
		return fmt.Errorf("create broadcast: %w", err)
	}
	return nil
}

func (s *GormStore) GetBroadcast(ctx context.Context, id int64) (*model.Broadcast, error) {
	return s.takeBroadcast(ctx, "id = ?", id)
}

func (s *GormStore) GetBroadcastByCampaign(ctx context.Context, campaignID int64) (*model.Broadcast, error) {
	return s.takeBroadcast(ctx, "campaign_id = ?", campaignID)
}

func (s *GormStore) takeBroadcast(ctx context.Context, query string, arg int64) (*model.Broadcast, error) {
	var b model.Broadcast
	if err := s.primary(ctx).Where(query, arg).Take(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.BroadcastNotFound
		}
		return nil, fmt.Errorf("get broadcast: %w", err)
	}
	return &b, nil
}

// ListRunningBroadcasts 走主库：领取时要和这里读到的 last_dispatch_at 比较
func (s *GormStore) ListRunningBroadcasts(ctx context.Context) ([]*model.Broadcast, error) {
	var list []*model.Broadcast
	err := s.primary(ctx).
		Where("status = ?", model.BroadcastStatusRunning).
		Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list running broadcasts: %w", err)
	}
	return list, nil
}

func (s *GormStore) UpdateBroadcast(ctx context.Context, u BroadcastUpdate) error {
	b := u.Broadcast
	return WithTransaction(ctx, s.db, func(ctx context.Context) error {
		tx := conn(ctx, s.db)
		res := tx.Model(&model.Broadcast{}).
			Where("id = ? AND version = ?", b.ID, u.ExpectedVersion).
			Updates(map[string]interface{}{
				"status":               b.Status,
				"message_gap_seconds":  b.MessageGapSeconds,
				"start_at":             b.StartAt,
				"selected_template_id": b.SelectedTemplateID,
				"started_at":           b.StartedAt,
				"completed_at":         b.CompletedAt,
				"cancelled_at":         b.CancelledAt,
				"version":              u.ExpectedVersion + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("update broadcast %d: %w", b.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return pkgerrors.Conflict
		}

		if u.CampaignStatus != "" {
			err := tx.Model(&model.Campaign{}).
				Where("id = ?", b.CampaignID).
				Update("status", u.CampaignStatus).Error
			if err != nil {
				return fmt.Errorf("update campaign %d status: %w", b.CampaignID, err)
			}
		}

		b.Version = u.ExpectedVersion + 1
		return nil
	})
}

func (s *GormStore) CompleteIfExhausted(ctx context.Context, broadcastID int64, now time.Time) (bool, error) {
	completed := false
	err := WithTransaction(ctx, s.db, func(ctx context.Context) error {
		tx := conn(ctx, s.db)

		var b model.Broadcast
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND status = ?", broadcastID, model.BroadcastStatusRunning).
			Limit(1).Find(&b)
		if res.Error != nil {
			return fmt.Errorf("lock broadcast %d: %w", broadcastID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var remaining int64
		err := tx.Model(&model.Lead{}).
			Where("campaign_id = ?", b.CampaignID).
			Where("(status IN ? AND attempts_made < max_attempts) OR status = ?",
				[]string{model.LeadStatusPending, model.LeadStatusFailed}, model.LeadStatusSending).
			Limit(1).Count(&remaining).Error
		if err != nil {
			return fmt.Errorf("count remaining leads: %w", err)
		}
		if remaining > 0 {
			return nil
		}

		err = tx.Model(&model.Broadcast{}).Where("id = ?", b.ID).Updates(map[string]interface{}{
			"status":       model.BroadcastStatusCompleted,
			"completed_at": now,
			"version":      gorm.Expr("version + 1"),
		}).Error
		if err != nil {
			return fmt.Errorf("complete broadcast %d: %w", b.ID, err)
		}
		err = tx.Model(&model.Campaign{}).Where("id = ?", b.CampaignID).
			Update("status", model.CampaignStatusCompleted).Error
		if err != nil {
			return fmt.Errorf("complete campaign %d: %w", b.CampaignID, err)
		}
		completed = true
		return nil
	})
	return completed, err
}

func (s *GormStore) CreateLeads(ctx context.Context, leads []*model.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	return conn(ctx, s.db).CreateInBatches(leads, 500).Error
}

func (s *GormStore) GetLead(ctx context.Context, id int64) (*model.Lead, error) {
	var l model.Lead
	if err := s.primary(ctx).Where("id = ?", id).Take(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.LeadNotFound
		}
		return nil, fmt.Errorf("get lead %d: %w", id, err)
	}
	return &l, nil
}

// ClaimNextLead 先对广播行做条件更新：同一广播的并发 tick 在这里串行化，
// last_dispatch_at 必须仍是调用方读到的值，只有一个能写入戳记；
// 随后 SKIP LOCKED 领取最早创建的可发送线索。
func (s *GormStore) ClaimNextLead(ctx context.Context, req ClaimRequest) (*model.Lead, error) {
	var claimed *model.Lead
	err := WithTransaction(ctx, s.db, func(ctx context.Context) error {
		tx := conn(ctx, s.db)

		res := tx.Model(&model.Broadcast{}).
			Where("id = ? AND status = ?", req.BroadcastID, model.BroadcastStatusRunning).
			Where("start_at IS NULL OR start_at <= ?", req.Now).
			Where("last_dispatch_at IS NULL OR last_dispatch_at + message_gap_seconds * interval '1 second' <= ?", req.Now).
			Where("last_dispatch_at IS NOT DISTINCT FROM ?", req.LastDispatchAt).
			Update("last_dispatch_at", req.Now)
		if res.Error != nil {
			return fmt.Errorf("stamp broadcast %d: %w", req.BroadcastID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotDue
		}

		var lead model.Lead
		res = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("campaign_id = ?", req.CampaignID).
			Where("(status IN ? AND attempts_made < max_attempts) OR (status = ? AND claimed_at <= ?)",
				[]string{model.LeadStatusPending, model.LeadStatusFailed},
				model.LeadStatusSending, req.Now.Add(-req.AbandonAfter)).
			Order("created_at ASC, id ASC").
			Limit(1).Find(&lead)
		if res.Error != nil {
			return fmt.Errorf("select claimable lead: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errNoClaimableLead
		}

		lead.Claim(req.Now, req.Token, req.AbandonAfter)
		err := tx.Model(&model.Lead{}).Where("id = ?", lead.ID).Updates(map[string]interface{}{
			"status":      lead.Status,
			"claimed_at":  lead.ClaimedAt,
			"claim_token": lead.ClaimToken,
		}).Error
		if err != nil {
			return fmt.Errorf("claim lead %d: %w", lead.ID, err)
		}
		claimed = &lead
		return nil
	})
	if errors.Is(err, errNoClaimableLead) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *GormStore) RecordOutcome(ctx context.Context, o Outcome) (*OutcomeResult, error) {
	var result *OutcomeResult
	err := WithTransaction(ctx, s.db, func(ctx context.Context) error {
		tx := conn(ctx, s.db)

		var lead model.Lead
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", o.LeadID).Limit(1).Find(&lead)
		if res.Error != nil {
			return fmt.Errorf("lock lead %d: %w", o.LeadID, res.Error)
		}
		if res.RowsAffected == 0 {
			return pkgerrors.LeadNotFound
		}
		if lead.Status != model.LeadStatusSending || lead.ClaimToken != o.ClaimToken {
			return ErrStaleClaim
		}

		exhausted := lead.ApplyOutcome(o.Success, o.At)
		if o.Success {
			lead.ProviderMessageID = o.ProviderMessageID
		} else {
			lead.LastError = truncate(o.ErrorReason, 512)
		}

		err := tx.Model(&model.Lead{}).Where("id = ?", lead.ID).Updates(map[string]interface{}{
			"status":              lead.Status,
			"attempts_made":       lead.AttemptsMade,
			"last_attempt_at":     lead.LastAttemptAt,
			"claimed_at":          nil,
			"claim_token":         "",
			"last_error":          lead.LastError,
			"provider_message_id": lead.ProviderMessageID,
		}).Error
		if err != nil {
			return fmt.Errorf("record lead %d outcome: %w", lead.ID, err)
		}

		var counter string
		switch {
		case o.Success:
			counter = "total_sent"
		case exhausted:
			counter = "total_failed"
		}
		if counter != "" {
			err = tx.Model(&model.Broadcast{}).Where("id = ?", o.BroadcastID).
				UpdateColumn(counter, gorm.Expr(counter+" + 1")).Error
			if err != nil {
				return fmt.Errorf("increment %s: %w", counter, err)
			}
		}

		result = &OutcomeResult{Lead: &lead, Exhausted: exhausted}
		return nil
	})
	return result, err
}

func (s *GormStore) LeadCounts(ctx context.Context, campaignID int64) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := conn(ctx, s.db).Model(&model.Lead{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
