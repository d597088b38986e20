package cache

import (
	"context"
	"testing"
	"time"

	ri "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
)

type countingSource struct {
	templates map[int64]*model.Template
	calls     int
}

func (s *countingSource) GetTemplate(_ context.Context, id int64) (*model.Template, error) {
	s.calls++
	t, ok := s.templates[id]
	if !ok {
		return nil, pkgerrors.TemplateNotFound
	}
	return t, nil
}

// 指向不可达地址的 redis：所有缓存操作都失败
func unreachableCache(t *testing.T, breaker *CircuitBreaker, source TemplateSource) *TemplateCache {
	t.Helper()
	rc := ri.NewClient(&ri.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rc.Close() })

	return &TemplateCache{
		source: source,
		cache: &ProtectedCache{
			client:    func() ri.Cmdable { return rc },
			keyPrefix: "template",
			ttl:       time.Minute,
			emptyTTL:  time.Minute,
		},
		breaker: breaker,
	}
}

func TestTemplateCache_FallsBackToSourceWhenRedisDown(t *testing.T) {
	source := &countingSource{templates: map[int64]*model.Template{
		1: {BaseModel: model.BaseModel{ID: 1}, Body: "Hi"},
	}}
	breaker := NewCircuitBreaker("template_test", 2, time.Hour)
	c := unreachableCache(t, breaker, source)

	for i := 0; i < 4; i++ {
		tpl, err := c.GetTemplate(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "Hi", tpl.Body)
	}
	assert.Equal(t, 4, source.calls)
	assert.Equal(t, StateOpen, breaker.GetState())

	_, err := c.GetTemplate(context.Background(), 2)
	assert.ErrorIs(t, err, pkgerrors.TemplateNotFound)
}
