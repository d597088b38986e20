package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WaBroadcast/config"
	"WaBroadcast/internal/model"
	"WaBroadcast/internal/model/dto"
	"WaBroadcast/internal/repository"
	pkgerrors "WaBroadcast/pkg/errors"
)

func seedRequest() *dto.SeedRequest {
	gap := 30
	return &dto.SeedRequest{
		AgentID:  agent,
		Campaign: dto.SeedCampaign{Name: "spring sale"},
		Template: &dto.SeedTemplate{Name: "promo", Body: "Hi {{firstName}}, see you in {{city}}"},
		Intakes: []dto.SeedIntake{
			{Key: "city", Label: "City", Required: true},
			{Key: "plan"},
		},
		Leads: []dto.SeedLead{
			{PhoneNumber: "(201) 555-0100", FirstName: "Ana", CustomFields: map[string]string{"city": "Lima"}},
			{PhoneNumber: "+1 201 555 0101", FirstName: "Bo", MaxAttempts: 1, CustomFields: map[string]string{"city": "Oslo", "plan": "pro"}},
		},
		Settings: &dto.SeedSettings{MessageGapSeconds: &gap},
	}
}

func newSeedService() (*SeedService, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	return NewSeedService(store, NewBroadcastService(store, nil)), store
}

func TestSeedService_Seed(t *testing.T) {
	config.Cfg.DefaultPhoneRegion = "US"
	config.Cfg.DispatchDefaultMaxAttempt = 3
	ctx := context.Background()
	svc, store := newSeedService()

	res, err := svc.Seed(ctx, seedRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Leads)
	require.NotEmpty(t, res.BroadcastID)

	campaignID, err := strconv.ParseInt(res.CampaignID, 10, 64)
	require.NoError(t, err)

	b, err := store.GetBroadcastByCampaign(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, model.BroadcastStatusReady, b.Status)
	assert.Equal(t, 30, b.MessageGapSeconds)

	intakes, err := store.ListCustomFieldIntakes(ctx, campaignID)
	require.NoError(t, err)
	assert.Len(t, intakes, 2)

	counts, err := store.LeadCounts(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.LeadStatusPending])
}

func TestSeedService_NormalisesLeads(t *testing.T) {
	config.Cfg.DefaultPhoneRegion = "US"
	config.Cfg.DispatchDefaultMaxAttempt = 3

	leads, err := buildLeads(seedRequest())
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "+12015550100", leads[0].PhoneNumber)
	assert.Equal(t, 3, leads[0].MaxAttempts)
	assert.Equal(t, "+12015550101", leads[1].PhoneNumber)
	assert.Equal(t, 1, leads[1].MaxAttempts)
}

func TestSeedService_RejectsInvalidInput(t *testing.T) {
	config.Cfg.DefaultPhoneRegion = "US"

	tests := []struct {
		name   string
		mutate func(r *dto.SeedRequest)
		want   error
	}{
		{name: "missing agent", mutate: func(r *dto.SeedRequest) { r.AgentID = "" }, want: pkgerrors.InvalidRequest},
		{name: "template without body or media", mutate: func(r *dto.SeedRequest) { r.Template.Body = "" }, want: pkgerrors.InvalidRequest},
		{name: "bad phone", mutate: func(r *dto.SeedRequest) { r.Leads[0].PhoneNumber = "12" }, want: pkgerrors.InvalidLead},
		{name: "duplicate phone", mutate: func(r *dto.SeedRequest) { r.Leads[1].PhoneNumber = "+12015550100" }, want: pkgerrors.InvalidLead},
		{name: "unknown custom field", mutate: func(r *dto.SeedRequest) { r.Leads[0].CustomFields["age"] = "40" }, want: pkgerrors.InvalidLead},
		{name: "missing required field", mutate: func(r *dto.SeedRequest) { delete(r.Leads[0].CustomFields, "city") }, want: pkgerrors.InvalidLead},
		{name: "negative gap", mutate: func(r *dto.SeedRequest) { g := -1; r.Settings.MessageGapSeconds = &g }, want: pkgerrors.InvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newSeedService()
			req := seedRequest()
			tt.mutate(req)

			_, err := svc.Seed(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)

			// 校验失败不写入任何数据
			_, err = store.GetCampaign(context.Background(), 1)
			assert.ErrorIs(t, err, pkgerrors.CampaignNotFound)
		})
	}
}
