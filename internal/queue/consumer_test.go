package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
)

type memoryDeduper struct {
	mu      sync.Mutex
	marks   map[string]string
	failing bool
}

func newMemoryDeduper() *memoryDeduper {
	return &memoryDeduper{marks: make(map[string]string)}
}

func (d *memoryDeduper) TryMark(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing {
		return false, errors.New("redis down")
	}
	if _, ok := d.marks[id]; ok {
		return false, nil
	}
	d.marks[id] = "processing"
	return true, nil
}

func (d *memoryDeduper) Unmark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.marks, id)
	return nil
}

func (d *memoryDeduper) MarkDone(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marks[id] = "completed"
	return nil
}

type recordingExecutor struct {
	jobs []model.DispatchJob
	err  error
}

func (e *recordingExecutor) Execute(_ context.Context, job model.DispatchJob) error {
	e.jobs = append(e.jobs, job)
	return e.err
}

func newTestConsumer(exec JobExecutor, d Deduper) *DispatchConsumer {
	c := NewDispatchConsumer(exec)
	c.deduper = d
	return c
}

func body(t *testing.T, job model.DispatchJob) []byte {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return b
}

func TestDispatchConsumer_ExecutesOnce(t *testing.T) {
	exec := &recordingExecutor{}
	d := newMemoryDeduper()
	c := newTestConsumer(exec, d)
	job := model.DispatchJob{MessageID: "dispatch_1", ClaimToken: "tok", LeadID: 3, BroadcastID: 2}

	require.NoError(t, c.Handle(context.Background(), body(t, job)))
	assert.Equal(t, "completed", d.marks["dispatch_1"])

	err := c.Handle(context.Background(), body(t, job))
	assert.True(t, pkgerrors.IsSkipMessageError(err))
	require.Len(t, exec.jobs, 1)
	assert.Equal(t, job, exec.jobs[0])
}

func TestDispatchConsumer_MalformedMessageIsSkipped(t *testing.T) {
	c := newTestConsumer(&recordingExecutor{}, newMemoryDeduper())
	err := c.Handle(context.Background(), []byte("{not json"))
	assert.True(t, pkgerrors.IsSkipMessageError(err))
}

func TestDispatchConsumer_FailureUnmarksForRedelivery(t *testing.T) {
	exec := &recordingExecutor{err: errors.New("db down")}
	d := newMemoryDeduper()
	c := newTestConsumer(exec, d)
	job := model.DispatchJob{MessageID: "dispatch_2", ClaimToken: "tok", LeadID: 3}

	err := c.Handle(context.Background(), body(t, job))
	require.Error(t, err)
	assert.False(t, pkgerrors.IsSkipMessageError(err))
	assert.NotContains(t, d.marks, "dispatch_2")

	exec.err = nil
	require.NoError(t, c.Handle(context.Background(), body(t, job)))
	assert.Len(t, exec.jobs, 2)
}

func TestDispatchConsumer_DeduperOutageStillExecutes(t *testing.T) {
	exec := &recordingExecutor{}
	d := newMemoryDeduper()
	d.failing = true
	c := newTestConsumer(exec, d)

	require.NoError(t, c.Handle(context.Background(), body(t, model.DispatchJob{MessageID: "dispatch_3"})))
	assert.Len(t, exec.jobs, 1)
}
