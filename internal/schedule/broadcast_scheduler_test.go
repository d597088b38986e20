package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WaBroadcast/internal/model"
	"WaBroadcast/internal/repository"
	"WaBroadcast/internal/service"
	"WaBroadcast/pkg/clock"
	"WaBroadcast/pkg/sender"
)

const testAgent = "agent-1"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store      *repository.MemoryStore
	clock      *clock.Fake
	sender     *sender.MockClient
	dispatcher *switchDispatcher
	sched      *BroadcastScheduler
	broadcasts *service.BroadcastService
	broadcast  *model.Broadcast
	leads      []*model.Lead
}

// switchDispatcher 可以临时让投递失败，模拟领取后进程崩溃
type switchDispatcher struct {
	inner Dispatcher
	fail  atomic.Bool
}

func (d *switchDispatcher) Dispatch(ctx context.Context, job model.DispatchJob) error {
	if d.fail.Load() {
		return errors.New("worker crashed")
	}
	return d.inner.Dispatch(ctx, job)
}

type fixtureOpts struct {
	gap         int
	maxAttempts int
	leads       int
	startAt     *time.Time
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:  repository.NewMemoryStore(),
		clock:  clock.NewFake(t0),
		sender: sender.NewMockClient(),
	}

	campaign := &model.Campaign{AgentID: testAgent, Name: "launch", Status: model.CampaignStatusRunning}
	require.NoError(t, f.store.CreateCampaign(ctx, campaign))

	tpl := &model.Template{AgentID: testAgent, Name: "hello", Language: "en", Body: "Hi {{ firstName }}"}
	require.NoError(t, f.store.CreateTemplate(ctx, tpl))

	b := model.NewBroadcast(campaign.ID)
	b.MessageGapSeconds = o.gap
	b.StartAt = o.startAt
	b.SelectedTemplateID = &tpl.ID
	require.NoError(t, b.Start(t0))
	require.NoError(t, f.store.CreateBroadcast(ctx, b))
	f.broadcast = b

	for i := 0; i < o.leads; i++ {
		f.leads = append(f.leads, &model.Lead{
			CampaignID:  campaign.ID,
			PhoneNumber: fmt.Sprintf("+1201555%04d", i),
			FirstName:   fmt.Sprintf("lead-%d", i),
			MaxAttempts: o.maxAttempts,
		})
	}
	if len(f.leads) > 0 {
		require.NoError(t, f.store.CreateLeads(ctx, f.leads))
	}

	executor := service.NewExecutor(f.store, service.NewPlaceholderRenderer(f.store), f.sender, f.clock)
	f.dispatcher = &switchDispatcher{inner: NewInlineDispatcher(executor)}
	f.sched = newTestScheduler(f.store, f.dispatcher, f.clock)
	f.broadcasts = service.NewBroadcastService(f.store, f.clock)
	return f
}

func newTestScheduler(store repository.Store, d Dispatcher, clk clock.Clock) *BroadcastScheduler {
	s := NewBroadcastScheduler(store, d, clk, 5*time.Minute)
	var n int64
	s.newToken = func() (string, error) {
		return fmt.Sprintf("tok-%d", atomic.AddInt64(&n, 1)), nil
	}
	return s
}

func (f *fixture) tick(t *testing.T) *TickReport {
	t.Helper()
	report, err := f.sched.Tick(context.Background())
	require.NoError(t, err)
	return report
}

func (f *fixture) reload(t *testing.T) *model.Broadcast {
	t.Helper()
	b, err := f.store.GetBroadcast(context.Background(), f.broadcast.ID)
	require.NoError(t, err)
	return b
}

func (f *fixture) lead(t *testing.T, i int) *model.Lead {
	t.Helper()
	l, err := f.store.GetLead(context.Background(), f.leads[i].ID)
	require.NoError(t, err)
	return l
}

func TestTick_RespectsGap(t *testing.T) {
	f := newFixture(t, fixtureOpts{gap: 60, maxAttempts: 3, leads: 3})

	r := f.tick(t)
	assert.Equal(t, 1, r.Claimed)
	assert.Equal(t, 1, f.sender.CallCount())

	f.clock.Advance(30 * time.Second)
	r = f.tick(t)
	assert.Equal(t, 0, r.Claimed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, f.sender.CallCount())

	f.clock.Advance(30 * time.Second)
	r = f.tick(t)
	assert.Equal(t, 1, r.Claimed)
	assert.Equal(t, 2, f.sender.CallCount())
}

func TestTick_ConcurrentTicksSendOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{gap: 60, maxAttempts: 3, leads: 5})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.sched.Tick(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.sender.CallCount())
	assert.Equal(t, int64(1), f.reload(t).TotalSent)
}

func TestTick_ConcurrentTicksOnSameStateWithoutGap(t *testing.T) {
	f := newFixture(t, fixtureOpts{gap: 0, maxAttempts: 3, leads: 5})
	store := &barrierStore{Store: f.store}
	store.listed.Add(2)
	sched := newTestScheduler(store, f.dispatcher, f.clock)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sched.Tick(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.sender.CallCount())
	assert.Equal(t, int64(1), f.reload(t).TotalSent)
	assert.Equal(t, model.LeadStatusPending, f.lead(t, 1).Status)
}

// barrierStore 让两次 tick 都读完广播列表后才继续领取
type barrierStore struct {
	repository.Store
	listed sync.WaitGroup
}

func (s *barrierStore) ListRunningBroadcasts(ctx context.Context) ([]*model.Broadcast, error) {
	list, err := s.Store.ListRunningBroadcasts(ctx)
	s.listed.Done()
	s.listed.Wait()
	return list, err
}

func TestTick_DrainsLeadsInOrderAndCompletes(t *testing.T) {
	f := newFixture(t, fixtureOpts{gap: 0, maxAttempts: 1, leads: 3})

	var lastSent int64
	for i := 0; i < 3; i++ {
		r := f.tick(t)
		assert.Equal(t, 1, r.Claimed)

		b := f.reload(t)
		assert.GreaterOrEqual(t, b.TotalSent, lastSent)
		lastSent = b.TotalSent
		if i < 2 {
			assert.Equal(t, 0, r.Completed)
			assert.Equal(t, model.BroadcastStatusRunning, b.Status)
		} else {
			// 第三轮发完最后一条就完成
			assert.Equal(t, 1, r.Completed)
		}
		f.clock.Advance(time.Second)
	}

	b := f.reload(t)
	assert.Equal(t, model.BroadcastStatusCompleted, b.Status)
	assert.Equal(t, int64(3), b.TotalSent)
	assert.Equal(t, int64(0), b.TotalFailed)
	assert.Equal(t, []string{f.leads[0].PhoneNumber, f.leads[1].PhoneNumber, f.leads[2].PhoneNumber}, f.sender.PhonesSent())
	assert.Equal(t, "Hi lead-0", f.sender.Calls[0].Payload.Body)

	c, err := f.store.GetCampaign(context.Background(), b.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCompleted, c.Status)

	// 已完成的广播不再被调度
	r := f.tick(t)
	assert.Equal(t, 0, r.Broadcasts)
}

func TestTick_FailureThenRetrySucceeds(t *testing.T) {
	f := newFixture(t, fixtureOpts{gap: 0, maxAttempts: 3, leads: 1})
	f.sender.FailNext = 1

	f.tick(t)
	l := f.lead(t, 0)
	assert.Equal(t, model.LeadStatusFailed, l.Status)
	assert.Equal(t, 1, l.AttemptsMade)
	assert.NotEmpty(t, l.LastError)
	assert.Equal(t, int64(0), f.reload(t).TotalFailed)

	f.clock.Advance(time.Second)
	f.tick(t)
	l = f.lead(t, 0)
	assert.Equal(t, model.LeadStatusSent, l.Status)
	assert.Equal(t, 2, l.AttemptsMade)

	b := f.reload(t)
	assert.Equal(t, int64(1), b.TotalSent)
	assert.Equal(t, int64(0), b.TotalFailed)
}

func TestTick_SingleAttemptExhausts(t *testing.T) {
	f := newFixture(t, fixtureOpts{gap: 0, maxAttempts: 1, leads: 1})
	f.sender.FailAll = true

	r := f.tick(t)
	l := f.lead(t, 0)
	assert.Equal(t, model.LeadStatusExhausted, l.Status)
	assert.Equal(t, 1, l.AttemptsMade)
	assert.Equal(t, 1, r.Completed)

	b := f.reload(t)
	assert.Equal(t, int64(1), b.TotalFailed)
	assert.Equal(t, model.BroadcastStatusCompleted, b.Status)

	f.clock.Advance(time.Second)
	r = f.tick(t)
	assert.Equal(t, 0, r.Broadcasts)
	assert.Equal(t, 1, f.sender.CallCount())
}

func TestTick_PauseDuringSendStillRecordsOutcome(t *testing.T) {
	f := newFixture(t, fixtureOpts{gap: 0, maxAttempts: 3, leads: 2})
	f.sender.OnSend = func(ctx context.Context, _ string) {
		_, err := f.broadcasts.Pause(ctx, testAgent, f.broadcast.CampaignID)
		assert.NoError(t, err)
	}

	f.tick(t)
	f.sender.OnSend = nil

	b := f.reload(t)
	assert.Equal(t, model.BroadcastStatusPaused, b.Status)
	assert.Equal(t, int64(1), b.TotalSent)
	assert.Equal(t, model.LeadStatusSent, f.lead(t, 0).Status)

	f.clock.Advance(time.Minute)
	r := f.tick(t)
	assert.Equal(t, 0, r.Broadcasts)
	assert.Equal(t, 1, f.sender.CallCount())
	assert.Equal(t, model.LeadStatusPending, f.lead(t, 1).Status)
}

func TestTick_WaitsForStartAt(t *testing.T) {
	start := t0.Add(time.Hour)
	f := newFixture(t, fixtureOpts{gap: 0, maxAttempts: 3, leads: 1, startAt: &start})

	r := f.tick(t)
	assert.Equal(t, 1, r.Broadcasts)
	assert.Equal(t, 0, r.Due)
	assert.Equal(t, 0, f.sender.CallCount())

	f.clock.Set(start)
	r = f.tick(t)
	assert.Equal(t, 1, r.Claimed)
	assert.Equal(t, 1, f.sender.CallCount())
}

func TestTick_ReclaimsAbandonedLead(t *testing.T) {
	f := newFixture(t, fixtureOpts{gap: 0, maxAttempts: 3, leads: 1})
	f.dispatcher.fail.Store(true)

	_, err := f.sched.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.LeadStatusSending, f.lead(t, 0).Status)

	// 仍在发送中：既不能重新领取也不能完成
	f.dispatcher.fail.Store(false)
	f.clock.Advance(time.Minute)
	r := f.tick(t)
	assert.Equal(t, 0, r.Claimed)
	assert.Equal(t, 0, r.Completed)
	assert.Equal(t, model.BroadcastStatusRunning, f.reload(t).Status)

	f.clock.Advance(4 * time.Minute)
	r = f.tick(t)
	assert.Equal(t, 1, r.Claimed)
	assert.Equal(t, 1, r.Reclaimed)

	l := f.lead(t, 0)
	assert.Equal(t, model.LeadStatusSent, l.Status)
	assert.Equal(t, 1, l.AttemptsMade)
}

func TestTick_ReportsListFailure(t *testing.T) {
	s := newTestScheduler(failingStore{Store: repository.NewMemoryStore()}, nil, clock.NewFake(t0))
	report, err := s.Tick(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Broadcasts)
}

type failingStore struct {
	repository.Store
}

func (failingStore) ListRunningBroadcasts(context.Context) ([]*model.Broadcast, error) {
	return nil, errors.New("connection refused")
}
