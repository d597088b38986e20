package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
)

// testDSNEnv 指向一个可写的 PostgreSQL，未设置时跳过数据库测试
const testDSNEnv = "WABROADCAST_TEST_DSN"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping PostgreSQL tests", testDSNEnv)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Campaign{},
		&model.LeadCustomFieldIntake{},
		&model.Template{},
		&model.Broadcast{},
		&model.Lead{},
	))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// seedGorm 每个用例用自己的活动，测试之间不共享线索
func seedGorm(t *testing.T, s *GormStore, gap, maxAttempts, leads int) (*model.Broadcast, []*model.Lead) {
	t.Helper()
	ctx := context.Background()

	c := &model.Campaign{AgentID: "agent-pg", Name: fmt.Sprintf("pg-%d", time.Now().UnixNano())}
	require.NoError(t, s.CreateCampaign(ctx, c))

	b := model.NewBroadcast(c.ID)
	b.MessageGapSeconds = gap
	require.NoError(t, b.Start(t0))
	require.NoError(t, s.CreateBroadcast(ctx, b))

	ls := make([]*model.Lead, 0, leads)
	for i := 0; i < leads; i++ {
		ls = append(ls, &model.Lead{
			CampaignID:  c.ID,
			PhoneNumber: fmt.Sprintf("+1201555%04d", i),
			MaxAttempts: maxAttempts,
		})
	}
	if leads > 0 {
		require.NoError(t, s.CreateLeads(ctx, ls))
	}
	return b, ls
}

func gormClaim(t *testing.T, s *GormStore, b *model.Broadcast, now time.Time, token string) (*model.Lead, error) {
	t.Helper()
	current, err := s.GetBroadcast(context.Background(), b.ID)
	require.NoError(t, err)
	return s.ClaimNextLead(context.Background(), ClaimRequest{
		Now:            now,
		Token:          token,
		BroadcastID:    current.ID,
		CampaignID:     current.CampaignID,
		AbandonAfter:   5 * time.Minute,
		LastDispatchAt: current.LastDispatchAt,
	})
}

func TestGormStore(t *testing.T) {
	db := openTestDB(t)
	s := NewGormStore(db)
	ctx := context.Background()

	t.Run("ClaimSkipsLockedLeadInOrder", func(t *testing.T) {
		b, leads := seedGorm(t, s, 0, 3, 3)

		// 另一个事务持有第一条线索的行锁
		tx := db.Begin()
		require.NoError(t, tx.Error)
		var locked model.Lead
		require.NoError(t, tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", leads[0].ID).Take(&locked).Error)

		lead, err := gormClaim(t, s, b, t0, "pg-a")
		require.NoError(t, err)
		require.NotNil(t, lead)
		assert.Equal(t, leads[1].ID, lead.ID)
		assert.Equal(t, model.LeadStatusSending, lead.Status)
		require.NoError(t, tx.Rollback().Error)

		lead, err = gormClaim(t, s, b, t0.Add(time.Second), "pg-b")
		require.NoError(t, err)
		require.NotNil(t, lead)
		assert.Equal(t, leads[0].ID, lead.ID)

		lead, err = gormClaim(t, s, b, t0.Add(2*time.Second), "pg-c")
		require.NoError(t, err)
		require.NotNil(t, lead)
		assert.Equal(t, leads[2].ID, lead.ID)
	})

	t.Run("ClaimRespectsGap", func(t *testing.T) {
		b, _ := seedGorm(t, s, 10, 3, 2)

		_, err := gormClaim(t, s, b, t0, "gap-a")
		require.NoError(t, err)

		_, err = gormClaim(t, s, b, t0.Add(9*time.Second), "gap-b")
		assert.ErrorIs(t, err, ErrNotDue)

		lead, err := gormClaim(t, s, b, t0.Add(10*time.Second), "gap-c")
		require.NoError(t, err)
		assert.NotNil(t, lead)
	})

	t.Run("SameObservedStateClaimsOnce", func(t *testing.T) {
		b, _ := seedGorm(t, s, 0, 3, 3)
		observed, err := s.GetBroadcast(ctx, b.ID)
		require.NoError(t, err)

		req := ClaimRequest{
			Now:            t0,
			BroadcastID:    observed.ID,
			CampaignID:     observed.CampaignID,
			AbandonAfter:   5 * time.Minute,
			LastDispatchAt: observed.LastDispatchAt,
		}
		req.Token = "same-a"
		lead, err := s.ClaimNextLead(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, lead)

		req.Token = "same-b"
		_, err = s.ClaimNextLead(ctx, req)
		assert.ErrorIs(t, err, ErrNotDue)
	})

	t.Run("NoLeadKeepsLastDispatch", func(t *testing.T) {
		b, _ := seedGorm(t, s, 0, 3, 0)

		lead, err := gormClaim(t, s, b, t0, "empty")
		require.NoError(t, err)
		assert.Nil(t, lead)

		got, err := s.GetBroadcast(ctx, b.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LastDispatchAt)
	})

	t.Run("ReclaimsStaleSendingLead", func(t *testing.T) {
		b, leads := seedGorm(t, s, 0, 3, 1)

		first, err := gormClaim(t, s, b, t0, "stale-1")
		require.NoError(t, err)
		require.NotNil(t, first)

		// 仍在超时之内：没有可领取的线索，也不能完成
		lead, err := gormClaim(t, s, b, t0.Add(time.Minute), "stale-2")
		require.NoError(t, err)
		assert.Nil(t, lead)
		done, err := s.CompleteIfExhausted(ctx, b.ID, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, done)

		again, err := gormClaim(t, s, b, t0.Add(6*time.Minute), "stale-3")
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, leads[0].ID, again.ID)
		assert.True(t, again.Reclaimed)
		assert.Equal(t, 0, again.AttemptsMade)

		_, err = s.RecordOutcome(ctx, Outcome{At: t0.Add(6 * time.Minute), ClaimToken: "stale-1", BroadcastID: b.ID, LeadID: again.ID, Success: true})
		assert.ErrorIs(t, err, ErrStaleClaim)

		res, err := s.RecordOutcome(ctx, Outcome{At: t0.Add(6 * time.Minute), ClaimToken: "stale-3", BroadcastID: b.ID, LeadID: again.ID, Success: true, ProviderMessageID: "pg-m"})
		require.NoError(t, err)
		assert.Equal(t, model.LeadStatusSent, res.Lead.Status)
		assert.Equal(t, 1, res.Lead.AttemptsMade)

		done, err = s.CompleteIfExhausted(ctx, b.ID, t0.Add(6*time.Minute))
		require.NoError(t, err)
		assert.True(t, done)

		got, err := s.GetBroadcast(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BroadcastStatusCompleted, got.Status)
		assert.Equal(t, int64(1), got.TotalSent)

		c, err := s.GetCampaign(ctx, b.CampaignID)
		require.NoError(t, err)
		assert.Equal(t, model.CampaignStatusCompleted, c.Status)
	})

	t.Run("FailedCountsOnlyWhenExhausted", func(t *testing.T) {
		b, _ := seedGorm(t, s, 0, 2, 1)

		for i, want := range []string{model.LeadStatusFailed, model.LeadStatusExhausted} {
			now := t0.Add(time.Duration(i) * time.Second)
			token := fmt.Sprintf("fail-%d", i)
			lead, err := gormClaim(t, s, b, now, token)
			require.NoError(t, err)
			require.NotNil(t, lead)

			res, err := s.RecordOutcome(ctx, Outcome{At: now, ClaimToken: token, BroadcastID: b.ID, LeadID: lead.ID, ErrorReason: "provider rejected"})
			require.NoError(t, err)
			assert.Equal(t, want, res.Lead.Status)

			got, err := s.GetBroadcast(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(i), got.TotalFailed)
		}

		counts, err := s.LeadCounts(ctx, b.CampaignID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[model.LeadStatusExhausted])
	})

	t.Run("UpdateBroadcastVersionConflict", func(t *testing.T) {
		b, _ := seedGorm(t, s, 0, 3, 0)

		stale, err := s.GetBroadcast(ctx, b.ID)
		require.NoError(t, err)
		fresh, err := s.GetBroadcast(ctx, b.ID)
		require.NoError(t, err)

		require.NoError(t, fresh.Pause())
		require.NoError(t, s.UpdateBroadcast(ctx, BroadcastUpdate{Broadcast: fresh, ExpectedVersion: fresh.Version}))

		require.NoError(t, stale.Cancel(t0))
		err = s.UpdateBroadcast(ctx, BroadcastUpdate{Broadcast: stale, ExpectedVersion: stale.Version})
		assert.ErrorIs(t, err, pkgerrors.Conflict)

		got, err := s.GetBroadcast(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BroadcastStatusPaused, got.Status)
	})
}
