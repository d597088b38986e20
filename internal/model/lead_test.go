package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeadClaimable(t *testing.T) {
	abandon := 5 * time.Minute
	claimedAt := t0

	tests := []struct {
		name string
		lead Lead
		now  time.Time
		want bool
	}{
		{name: "pending", lead: Lead{Status: LeadStatusPending, MaxAttempts: 3}, now: t0, want: true},
		{name: "failed with attempts left", lead: Lead{Status: LeadStatusFailed, AttemptsMade: 1, MaxAttempts: 3}, now: t0, want: true},
		{name: "failed without attempts left", lead: Lead{Status: LeadStatusFailed, AttemptsMade: 3, MaxAttempts: 3}, now: t0, want: false},
		{name: "sent", lead: Lead{Status: LeadStatusSent, AttemptsMade: 1, MaxAttempts: 3}, now: t0, want: false},
		{name: "exhausted", lead: Lead{Status: LeadStatusExhausted, AttemptsMade: 3, MaxAttempts: 3}, now: t0, want: false},
		{name: "fresh sending", lead: Lead{Status: LeadStatusSending, ClaimedAt: &claimedAt, MaxAttempts: 3}, now: t0.Add(time.Minute), want: false},
		{name: "abandoned sending", lead: Lead{Status: LeadStatusSending, ClaimedAt: &claimedAt, MaxAttempts: 3}, now: t0.Add(abandon), want: true},
		{name: "unknown status", lead: Lead{Status: "ARCHIVED", MaxAttempts: 3}, now: t0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lead.IsClaimable(tt.now, abandon))
		})
	}
}

func TestLeadApplyOutcome(t *testing.T) {
	l := &Lead{Status: LeadStatusPending, MaxAttempts: 2}

	l.Claim(t0, "tok-1", time.Minute)
	assert.Equal(t, LeadStatusSending, l.Status)
	assert.Equal(t, 0, l.AttemptsMade)
	assert.False(t, l.Reclaimed)

	assert.False(t, l.ApplyOutcome(false, t0))
	assert.Equal(t, LeadStatusFailed, l.Status)
	assert.Equal(t, 1, l.AttemptsMade)
	assert.Empty(t, l.ClaimToken)

	l.Claim(t0.Add(time.Second), "tok-2", time.Minute)
	assert.True(t, l.ApplyOutcome(false, t0.Add(time.Second)))
	assert.Equal(t, LeadStatusExhausted, l.Status)
	assert.Equal(t, 2, l.AttemptsMade)
	assert.True(t, l.IsTerminal())
	assert.False(t, l.HasWorkLeft())
}

func TestLeadReclaimFlag(t *testing.T) {
	claimedAt := t0
	l := &Lead{Status: LeadStatusSending, ClaimedAt: &claimedAt, ClaimToken: "old", MaxAttempts: 3}

	l.Claim(t0.Add(10*time.Minute), "new", 5*time.Minute)
	assert.True(t, l.Reclaimed)
	assert.Equal(t, "new", l.ClaimToken)
	assert.Equal(t, 0, l.AttemptsMade)
}

func TestLeadVariables(t *testing.T) {
	l := &Lead{
		FirstName:    "Ana",
		PhoneNumber:  "+12015550123",
		CustomFields: StringMap{"city": "Lima", "firstName": "ignored"},
	}
	vars := l.Variables()
	assert.Equal(t, "Ana", vars["firstName"])
	assert.Equal(t, "Lima", vars["city"])
	assert.Equal(t, "+12015550123", vars["phoneNumber"])
}
