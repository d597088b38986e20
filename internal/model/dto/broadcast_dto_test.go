package dto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
)

func TestDecodeUpdateSettings_DistinguishesNullFromAbsent(t *testing.T) {
	req, err := DecodeUpdateSettings([]byte(`{"startAt": null}`))
	require.NoError(t, err)
	patch, err := req.ToPatch()
	require.NoError(t, err)

	assert.True(t, patch.StartAt.Set)
	assert.False(t, patch.StartAt.Valid)
	assert.False(t, patch.SelectedTemplateID.Set)
	assert.Nil(t, patch.MessageGapSeconds)
}

func TestDecodeUpdateSettings_Values(t *testing.T) {
	req, err := DecodeUpdateSettings([]byte(`{"messageGapSeconds": 0, "startAt": "2026-03-01T10:00:00+02:00", "selectedTemplateId": 42}`))
	require.NoError(t, err)
	patch, err := req.ToPatch()
	require.NoError(t, err)

	require.NotNil(t, patch.MessageGapSeconds)
	assert.Equal(t, 0, *patch.MessageGapSeconds)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), patch.StartAt.Value)
	assert.Equal(t, model.Some[int64](42), patch.SelectedTemplateID)
}

func TestDecodeUpdateSettings_Empty(t *testing.T) {
	for _, body := range []string{"", "  ", "{}"} {
		req, err := DecodeUpdateSettings([]byte(body))
		require.NoError(t, err)
		patch, err := req.ToPatch()
		require.NoError(t, err)
		assert.True(t, patch.Empty(), body)
	}
}

func TestDecodeUpdateSettings_Rejects(t *testing.T) {
	_, err := DecodeUpdateSettings([]byte(`{"unknown": 1}`))
	assert.ErrorIs(t, err, pkgerrors.InvalidRequest)

	_, err = DecodeUpdateSettings([]byte(`{"messageGapSeconds": "ten"}`))
	assert.ErrorIs(t, err, pkgerrors.InvalidRequest)

	req, err := DecodeUpdateSettings([]byte(`{"selectedTemplateId": "abc"}`))
	require.NoError(t, err)
	_, err = req.ToPatch()
	assert.ErrorIs(t, err, pkgerrors.InvalidSettings)

	req, err = DecodeUpdateSettings([]byte(`{"startAt": "2026-03-01"}`))
	require.NoError(t, err)
	_, err = req.ToPatch()
	assert.ErrorIs(t, err, pkgerrors.InvalidSettings)
}

func TestNewBroadcastSnapshot(t *testing.T) {
	last := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tpl := int64(5)
	b := &model.Broadcast{
		BaseModel:          model.BaseModel{ID: 12},
		CampaignID:         3,
		Status:             model.BroadcastStatusRunning,
		MessageGapSeconds:  60,
		LastDispatchAt:     &last,
		SelectedTemplateID: &tpl,
	}

	s := NewBroadcastSnapshot(b)
	assert.Equal(t, "12", s.ID)
	assert.Equal(t, "3", s.CampaignID)
	require.NotNil(t, s.SelectedTemplateID)
	assert.Equal(t, "5", *s.SelectedTemplateID)
	require.NotNil(t, s.NextEligibleAt)
	assert.Equal(t, last.Add(time.Minute), *s.NextEligibleAt)

	b.Status = model.BroadcastStatusPaused
	assert.Nil(t, NewBroadcastSnapshot(b).NextEligibleAt)
}
