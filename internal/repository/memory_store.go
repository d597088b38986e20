package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
)

// MemoryStore 进程内实现，语义与 GormStore 一致，一把互斥锁代替行锁。
// 用于测试和 wactl 的 --memory 演练。
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	campaigns  map[int64]*model.Campaign
	intakes    map[int64][]*model.LeadCustomFieldIntake
	templates  map[int64]*model.Template
	broadcasts map[int64]*model.Broadcast
	leads      map[int64]*model.Lead
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:  make(map[int64]*model.Campaign),
		intakes:    make(map[int64][]*model.LeadCustomFieldIntake),
		templates:  make(map[int64]*model.Template),
		broadcasts: make(map[int64]*model.Broadcast),
		leads:      make(map[int64]*model.Lead),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func stamp(base *model.BaseModel, id int64) {
	now := time.Now()
	if base.ID == 0 {
		base.ID = id
	}
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
}

func (s *MemoryStore) CreateCampaign(_ context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	stamp(&c.BaseModel, s.id())
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCampaign(_ context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, pkgerrors.CampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CreateCustomFieldIntakes(_ context.Context, intakes []*model.LeadCustomFieldIntake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range intakes {
		stamp(&in.BaseModel, s.id())
		cp := *in
		s.intakes[in.CampaignID] = append(s.intakes[in.CampaignID], &cp)
	}
	return nil
}

func (s *MemoryStore) ListCustomFieldIntakes(_ context.Context, campaignID int64) ([]*model.LeadCustomFieldIntake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.LeadCustomFieldIntake, 0, len(s.intakes[campaignID]))
	for _, in := range s.intakes[campaignID] {
		cp := *in
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) CreateTemplate(_ context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&t.BaseModel, s.id())
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id int64) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, pkgerrors.TemplateNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) CreateBroadcast(_ context.Context, b *model.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.broadcasts {
		if existing.CampaignID == b.CampaignID {
			return pkgerrors.Conflict
		}
	}
	stamp(&b.BaseModel, s.id())
	s.broadcasts[b.ID] = cloneBroadcast(b)
	return nil
}

func (s *MemoryStore) GetBroadcast(_ context.Context, id int64) (*model.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, pkgerrors.BroadcastNotFound
	}
	return cloneBroadcast(b), nil
}

func (s *MemoryStore) GetBroadcastByCampaign(_ context.Context, campaignID int64) (*model.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.broadcasts {
		if b.CampaignID == campaignID {
			return cloneBroadcast(b), nil
		}
	}
	return nil, pkgerrors.BroadcastNotFound
}

func (s *MemoryStore) ListRunningBroadcasts(_ context.Context) ([]*model.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Broadcast
	for _, b := range s.broadcasts {
		if b.Status == model.BroadcastStatusRunning {
			out = append(out, cloneBroadcast(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateBroadcast(_ context.Context, u BroadcastUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := u.Broadcast
	cur, ok := s.broadcasts[b.ID]
	if !ok || cur.Version != u.ExpectedVersion {
		return pkgerrors.Conflict
	}

	cur.Status = b.Status
	cur.MessageGapSeconds = b.MessageGapSeconds
	cur.StartAt = copyTime(b.StartAt)
	cur.SelectedTemplateID = copyInt64(b.SelectedTemplateID)
	cur.StartedAt = copyTime(b.StartedAt)
	cur.CompletedAt = copyTime(b.CompletedAt)
	cur.CancelledAt = copyTime(b.CancelledAt)
	cur.Version = u.ExpectedVersion + 1
	cur.UpdatedAt = time.Now()
	b.Version = cur.Version

	if u.CampaignStatus != "" {
		if c, ok := s.campaigns[b.CampaignID]; ok {
			c.Status = u.CampaignStatus
		}
	}
	return nil
}

func (s *MemoryStore) CompleteIfExhausted(_ context.Context, broadcastID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[broadcastID]
	if !ok || b.Status != model.BroadcastStatusRunning {
		return false, nil
	}
	for _, l := range s.leads {
		if l.CampaignID == b.CampaignID && l.HasWorkLeft() {
			return false, nil
		}
	}
	if err := b.Complete(now); err != nil {
		return false, err
	}
	b.Version++
	if c, ok := s.campaigns[b.CampaignID]; ok {
		c.Status = model.CampaignStatusCompleted
	}
	return true, nil
}

func (s *MemoryStore) CreateLeads(_ context.Context, leads []*model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range leads {
		if l.Status == "" {
			l.Status = model.LeadStatusPending
		}
		if l.MaxAttempts <= 0 {
			l.MaxAttempts = model.DefaultMaxAttempts
		}
		stamp(&l.BaseModel, s.id())
		s.leads[l.ID] = cloneLead(l)
	}
	return nil
}

func (s *MemoryStore) GetLead(_ context.Context, id int64) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, pkgerrors.LeadNotFound
	}
	return cloneLead(l), nil
}

func (s *MemoryStore) ClaimNextLead(_ context.Context, req ClaimRequest) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[req.BroadcastID]
	if !ok || !b.IsDue(req.Now) || !sameInstant(b.LastDispatchAt, req.LastDispatchAt) {
		return nil, ErrNotDue
	}

	var candidates []*model.Lead
	for _, l := range s.leads {
		if l.CampaignID == req.CampaignID && l.IsClaimable(req.Now, req.AbandonAfter) {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	lead := candidates[0]
	lead.Claim(req.Now, req.Token, req.AbandonAfter)
	now := req.Now
	b.LastDispatchAt = &now
	return cloneLead(lead), nil
}

func (s *MemoryStore) RecordOutcome(_ context.Context, o Outcome) (*OutcomeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[o.LeadID]
	if !ok {
		return nil, pkgerrors.LeadNotFound
	}
	if lead.Status != model.LeadStatusSending || lead.ClaimToken != o.ClaimToken {
		return nil, ErrStaleClaim
	}

	exhausted := lead.ApplyOutcome(o.Success, o.At)
	if o.Success {
		lead.ProviderMessageID = o.ProviderMessageID
	} else {
		lead.LastError = truncate(o.ErrorReason, 512)
	}

	if b, ok := s.broadcasts[o.BroadcastID]; ok {
		switch {
		case o.Success:
			b.TotalSent++
		case exhausted:
			b.TotalFailed++
		}
	}
	return &OutcomeResult{Lead: cloneLead(lead), Exhausted: exhausted}, nil
}

func (s *MemoryStore) LeadCounts(_ context.Context, campaignID int64) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, l := range s.leads {
		if l.CampaignID == campaignID {
			counts[l.Status]++
		}
	}
	return counts, nil
}

func cloneBroadcast(b *model.Broadcast) *model.Broadcast {
	cp := *b
	cp.StartAt = copyTime(b.StartAt)
	cp.SelectedTemplateID = copyInt64(b.SelectedTemplateID)
	cp.LastDispatchAt = copyTime(b.LastDispatchAt)
	cp.StartedAt = copyTime(b.StartedAt)
	cp.CompletedAt = copyTime(b.CompletedAt)
	cp.CancelledAt = copyTime(b.CancelledAt)
	return &cp
}

func cloneLead(l *model.Lead) *model.Lead {
	cp := *l
	cp.LastAttemptAt = copyTime(l.LastAttemptAt)
	cp.ClaimedAt = copyTime(l.ClaimedAt)
	if l.CustomFields != nil {
		cp.CustomFields = make(model.StringMap, len(l.CustomFields))
		for k, v := range l.CustomFields {
			cp.CustomFields[k] = v
		}
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
