package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "WaBroadcast/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestBroadcastTransitions(t *testing.T) {
	b := NewBroadcast(7)
	require.Equal(t, BroadcastStatusDraft, b.Status)

	require.NoError(t, b.Start(t0))
	assert.Equal(t, BroadcastStatusRunning, b.Status)
	assert.Equal(t, t0, *b.StartedAt)

	assert.ErrorIs(t, b.Start(t0), pkgerrors.InvalidTransition)
	assert.ErrorIs(t, b.Resume(), pkgerrors.InvalidTransition)

	require.NoError(t, b.Pause())
	assert.ErrorIs(t, b.Pause(), pkgerrors.InvalidTransition)
	require.NoError(t, b.Resume())

	require.NoError(t, b.Cancel(t0.Add(time.Minute)))
	assert.Equal(t, BroadcastStatusCancelled, b.Status)
	assert.ErrorIs(t, b.Cancel(t0), pkgerrors.InvalidTransition)

	// 重新启动保留首次 StartedAt
	require.NoError(t, b.Start(t0.Add(time.Hour)))
	assert.Equal(t, t0, *b.StartedAt)
	assert.Nil(t, b.CancelledAt)
}

func TestBroadcastComplete(t *testing.T) {
	b := NewBroadcast(1)
	assert.ErrorIs(t, b.Complete(t0), pkgerrors.InvalidTransition)

	require.NoError(t, b.Start(t0))
	require.NoError(t, b.Complete(t0.Add(time.Minute)))
	assert.Equal(t, BroadcastStatusCompleted, b.Status)
	assert.ErrorIs(t, b.Pause(), pkgerrors.InvalidTransition)
	assert.ErrorIs(t, b.Cancel(t0), pkgerrors.InvalidTransition)

	require.NoError(t, b.Start(t0.Add(time.Hour)))
	assert.Nil(t, b.CompletedAt)
}

func TestApplySettings_LockedWhileRunning(t *testing.T) {
	gap := 5
	patches := map[string]SettingsPatch{
		"empty":    {},
		"gap":      {MessageGapSeconds: &gap},
		"startAt":  {StartAt: Some(t0)},
		"template": {SelectedTemplateID: Some[int64](3)},
		"nulls":    {StartAt: Null[time.Time](), SelectedTemplateID: Null[int64]()},
		"all":      {MessageGapSeconds: &gap, StartAt: Some(t0), SelectedTemplateID: Some[int64](3)},
	}

	for name, p := range patches {
		t.Run(name, func(t *testing.T) {
			b := NewBroadcast(1)
			require.NoError(t, b.Start(t0))
			err := b.ApplySettings(p)
			assert.True(t, errors.Is(err, pkgerrors.SettingsLocked))
			assert.Equal(t, 0, b.MessageGapSeconds)
			assert.Nil(t, b.SelectedTemplateID)
		})
	}
}

func TestApplySettings_PartialUpdate(t *testing.T) {
	b := NewBroadcast(1)
	gap := 30
	require.NoError(t, b.ApplySettings(SettingsPatch{
		MessageGapSeconds:  &gap,
		StartAt:            Some(t0),
		SelectedTemplateID: Some[int64](9),
	}))
	assert.Equal(t, BroadcastStatusReady, b.Status)

	// 缺失字段保持不变
	require.NoError(t, b.ApplySettings(SettingsPatch{StartAt: Null[time.Time]()}))
	assert.Nil(t, b.StartAt)
	assert.Equal(t, 30, b.MessageGapSeconds)
	require.NotNil(t, b.SelectedTemplateID)
	assert.Equal(t, int64(9), *b.SelectedTemplateID)

	require.NoError(t, b.ApplySettings(SettingsPatch{SelectedTemplateID: Null[int64]()}))
	assert.Equal(t, BroadcastStatusDraft, b.Status)

	negative := -1
	assert.ErrorIs(t, b.ApplySettings(SettingsPatch{MessageGapSeconds: &negative}), pkgerrors.InvalidSettings)
}

func TestIsDue(t *testing.T) {
	b := NewBroadcast(1)
	assert.False(t, b.IsDue(t0))

	require.NoError(t, b.Start(t0))
	assert.True(t, b.IsDue(t0))

	future := t0.Add(time.Hour)
	b.StartAt = &future
	assert.False(t, b.IsDue(t0))
	assert.True(t, b.IsDue(future))

	b.StartAt = nil
	b.MessageGapSeconds = 60
	last := t0
	b.LastDispatchAt = &last
	assert.False(t, b.IsDue(t0.Add(59*time.Second)))
	assert.True(t, b.IsDue(t0.Add(60*time.Second)))
}

func TestNextEligibleAt(t *testing.T) {
	b := NewBroadcast(1)
	assert.Nil(t, b.NextEligibleAt())

	start := t0.Add(time.Hour)
	b.StartAt = &start
	assert.Equal(t, start, *b.NextEligibleAt())

	last := t0.Add(2 * time.Hour)
	b.LastDispatchAt = &last
	b.MessageGapSeconds = 10
	assert.Equal(t, last.Add(10*time.Second), *b.NextEligibleAt())
}
