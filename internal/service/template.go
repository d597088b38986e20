package service

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"WaBroadcast/internal/cache"
	"WaBroadcast/internal/model"
	pkgerrors "WaBroadcast/pkg/errors"
)

// TemplateRenderer 渲染失败返回 TemplateNotFound 或 RenderError，其它错误视为存储故障
type TemplateRenderer interface {
	Render(ctx context.Context, templateID int64, vars map[string]string) (model.TemplatePayload, error)
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// PlaceholderRenderer 严格替换 {{ key }}，任何缺失变量都算渲染失败
type PlaceholderRenderer struct {
	source cache.TemplateSource
}

func NewPlaceholderRenderer(source cache.TemplateSource) *PlaceholderRenderer {
	return &PlaceholderRenderer{source: source}
}

func (r *PlaceholderRenderer) Render(ctx context.Context, templateID int64, vars map[string]string) (model.TemplatePayload, error) {
	tpl, err := r.source.GetTemplate(ctx, templateID)
	if err != nil {
		return model.TemplatePayload{}, err
	}

	body, err := substitute(tpl.Body, vars)
	if err != nil {
		return model.TemplatePayload{}, err
	}
	if strings.TrimSpace(body) == "" && tpl.MediaURL == "" {
		return model.TemplatePayload{}, pkgerrors.Wrap(pkgerrors.RenderError, "rendered message is empty")
	}

	return model.TemplatePayload{
		TemplateID: tpl.ID,
		Language:   tpl.Language,
		Body:       body,
		MediaURL:   tpl.MediaURL,
		MediaType:  tpl.MediaType,
	}, nil
}

func substitute(body string, vars map[string]string) (string, error) {
	missing := map[string]struct{}{}
	out := placeholderPattern.ReplaceAllStringFunc(body, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := vars[key]
		if !ok {
			missing[key] = struct{}{}
			return m
		}
		return v
	})
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", pkgerrors.Wrap(pkgerrors.RenderError, "missing variables: "+strings.Join(keys, ", "))
	}
	return out, nil
}
