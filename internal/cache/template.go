package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/logger"
)

// TemplateSource 模板的权威来源
type TemplateSource interface {
	GetTemplate(ctx context.Context, id int64) (*model.Template, error)
}

// TemplateCache 模板读穿缓存。redis 异常时经熔断器降级为直接回源。
type TemplateCache struct {
	source  TemplateSource
	cache   *ProtectedCache
	breaker *CircuitBreaker
}

func NewTemplateCache(source TemplateSource, ttl time.Duration) *TemplateCache {
	return &TemplateCache{
		source:  source,
		cache:   NewProtectedCache("template", ttl),
		breaker: TemplateBreaker,
	}
}

func (c *TemplateCache) GetTemplate(ctx context.Context, id int64) (*model.Template, error) {
	key := strconv.FormatInt(id, 10)

	var (
		t          model.Template
		hit, empty bool
	)
	err := c.breaker.Call(func() error {
		var err error
		hit, empty, err = c.cache.Get(ctx, key, &t)
		return err
	})
	if err == nil && hit {
		if empty {
			return nil, pkgerrors.TemplateNotFound
		}
		return &t, nil
	}

	tpl, srcErr := c.source.GetTemplate(ctx, id)
	switch {
	case errors.Is(srcErr, pkgerrors.TemplateNotFound):
		c.store(ctx, key, nil)
		return nil, srcErr
	case srcErr != nil:
		return nil, srcErr
	}

	c.store(ctx, key, tpl)
	return tpl, nil
}

// Invalidate 模板修改后调用
func (c *TemplateCache) Invalidate(ctx context.Context, id int64) error {
	return c.cache.Delete(ctx, strconv.FormatInt(id, 10))
}

func (c *TemplateCache) store(ctx context.Context, key string, value interface{}) {
	err := c.breaker.Call(func() error {
		return c.cache.Set(ctx, key, value)
	})
	if err != nil {
		logger.Logger.Debug("Skip template cache write", zap.String("key", key), zap.Error(err))
	}
}
