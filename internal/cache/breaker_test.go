package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 2, 30*time.Second)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	ok := func() error { return nil }
	fail := func() error { return boom }

	assert.ErrorIs(t, cb.Call(fail), boom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(fail), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	calls := 0
	err := cb.Call(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 0, calls)

	now = now.Add(30 * time.Second)
	assert.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 1, time.Second)
	cb.now = func() time.Time { return now }

	_ = cb.Call(func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.GetState())

	now = now.Add(time.Second)
	_ = cb.Call(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrBreakerOpen)
}
