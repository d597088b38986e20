package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WaBroadcast/internal/model"
	"WaBroadcast/internal/repository"
	pkgerrors "WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/sender"
)

type executorFixture struct {
	*controlFixture
	sender    *sender.MockClient
	executor  *Executor
	broadcast *model.Broadcast
	lead      *model.Lead
}

func newExecutorFixture(t *testing.T, body string, maxAttempts int) *executorFixture {
	t.Helper()
	ctx := context.Background()
	cf := newControlFixture(t)
	f := &executorFixture{controlFixture: cf, sender: sender.NewMockClient()}

	tpl := &model.Template{AgentID: agent, Name: "custom", Language: "es", Body: body}
	require.NoError(t, cf.store.CreateTemplate(ctx, tpl))

	b := model.NewBroadcast(cf.campaign.ID)
	b.SelectedTemplateID = &tpl.ID
	require.NoError(t, b.Start(t0))
	require.NoError(t, cf.store.CreateBroadcast(ctx, b))
	f.broadcast = b

	f.lead = &model.Lead{
		CampaignID:   cf.campaign.ID,
		PhoneNumber:  "+12015550100",
		FirstName:    "Ana",
		MaxAttempts:  maxAttempts,
		CustomFields: model.StringMap{"city": "Lima"},
	}
	require.NoError(t, cf.store.CreateLeads(ctx, []*model.Lead{f.lead}))

	f.executor = NewExecutor(cf.store, NewPlaceholderRenderer(cf.store), f.sender, cf.clock)
	return f
}

func (f *executorFixture) claim(t *testing.T, token string) model.DispatchJob {
	t.Helper()
	b, err := f.store.GetBroadcast(context.Background(), f.broadcast.ID)
	require.NoError(t, err)
	lead, err := f.store.ClaimNextLead(context.Background(), repository.ClaimRequest{
		Now:            f.clock.Now(),
		Token:          token,
		BroadcastID:    b.ID,
		CampaignID:     b.CampaignID,
		LastDispatchAt: b.LastDispatchAt,
	})
	require.NoError(t, err)
	require.NotNil(t, lead)
	return model.DispatchJob{ClaimToken: token, BroadcastID: f.broadcast.ID, CampaignID: f.broadcast.CampaignID, LeadID: lead.ID}
}

func (f *executorFixture) reloadLead(t *testing.T) *model.Lead {
	t.Helper()
	l, err := f.store.GetLead(context.Background(), f.lead.ID)
	require.NoError(t, err)
	return l
}

func TestExecutor_SendsRenderedMessage(t *testing.T) {
	f := newExecutorFixture(t, "Hola {{firstName}} de {{ city }}", 3)
	job := f.claim(t, "tok-1")

	require.NoError(t, f.executor.Execute(context.Background(), job))

	require.Equal(t, 1, f.sender.CallCount())
	call := f.sender.Calls[0]
	assert.Equal(t, "+12015550100", call.Phone)
	assert.Equal(t, "Hola Ana de Lima", call.Payload.Body)
	assert.Equal(t, "es", call.Payload.Language)

	l := f.reloadLead(t)
	assert.Equal(t, model.LeadStatusSent, l.Status)
	assert.Equal(t, "mock-1", l.ProviderMessageID)
}

func TestExecutor_DropsStaleJob(t *testing.T) {
	f := newExecutorFixture(t, "Hi {{firstName}}", 3)
	job := f.claim(t, "tok-1")
	job.ClaimToken = "tok-0"

	require.NoError(t, f.executor.Execute(context.Background(), job))
	assert.Equal(t, 0, f.sender.CallCount())
	assert.Equal(t, model.LeadStatusSending, f.reloadLead(t).Status)
}

func TestExecutor_DropsMissingLead(t *testing.T) {
	f := newExecutorFixture(t, "Hi", 3)
	err := f.executor.Execute(context.Background(), model.DispatchJob{LeadID: 9999, BroadcastID: f.broadcast.ID})
	assert.NoError(t, err)
}

func TestExecutor_MissingVariableIsFailedAttempt(t *testing.T) {
	f := newExecutorFixture(t, "Hi {{firstName}}, your code is {{ code }}", 1)
	job := f.claim(t, "tok-1")

	require.NoError(t, f.executor.Execute(context.Background(), job))
	assert.Equal(t, 0, f.sender.CallCount())

	l := f.reloadLead(t)
	assert.Equal(t, model.LeadStatusExhausted, l.Status)
	assert.Contains(t, l.LastError, "code")

	b, err := f.store.GetBroadcast(context.Background(), f.broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.TotalFailed)
}

func TestExecutor_DeletedTemplateIsFailedAttempt(t *testing.T) {
	f := newExecutorFixture(t, "Hi", 3)
	ctx := context.Background()

	// 模板被清空后广播仍在运行
	b, err := f.store.GetBroadcast(ctx, f.broadcast.ID)
	require.NoError(t, err)
	missing := int64(777)
	b.SelectedTemplateID = &missing
	require.NoError(t, f.store.UpdateBroadcast(ctx, repository.BroadcastUpdate{Broadcast: b, ExpectedVersion: b.Version}))

	job := f.claim(t, "tok-1")
	require.NoError(t, f.executor.Execute(ctx, job))

	l := f.reloadLead(t)
	assert.Equal(t, model.LeadStatusFailed, l.Status)
	assert.Equal(t, 1, l.AttemptsMade)
}

func TestExecutor_SendFailureRecordsReason(t *testing.T) {
	f := newExecutorFixture(t, "Hi {{firstName}}", 3)
	f.sender.FailNext = 1
	job := f.claim(t, "tok-1")

	require.NoError(t, f.executor.Execute(context.Background(), job))
	l := f.reloadLead(t)
	assert.Equal(t, model.LeadStatusFailed, l.Status)
	assert.Contains(t, l.LastError, pkgerrors.SendFailure.Message)
}

type brokenRenderer struct{}

func (brokenRenderer) Render(context.Context, int64, map[string]string) (model.TemplatePayload, error) {
	return model.TemplatePayload{}, errors.New("redis timeout")
}

func TestExecutor_InfrastructureErrorLeavesClaim(t *testing.T) {
	f := newExecutorFixture(t, "Hi", 3)
	f.executor = NewExecutor(f.store, brokenRenderer{}, f.sender, f.clock)
	job := f.claim(t, "tok-1")

	assert.Error(t, f.executor.Execute(context.Background(), job))
	l := f.reloadLead(t)
	assert.Equal(t, model.LeadStatusSending, l.Status)
	assert.Equal(t, 0, l.AttemptsMade)
}
