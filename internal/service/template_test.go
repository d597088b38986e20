package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WaBroadcast/internal/model"
	"WaBroadcast/internal/repository"
	pkgerrors "WaBroadcast/pkg/errors"
)

func TestPlaceholderRenderer(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	r := NewPlaceholderRenderer(store)

	tpl := &model.Template{Name: "t", Language: "en", Body: "{{greeting}}, {{ firstName }}! {{greeting}}"}
	require.NoError(t, store.CreateTemplate(ctx, tpl))

	out, err := r.Render(ctx, tpl.ID, map[string]string{"greeting": "Hey", "firstName": "Bo"})
	require.NoError(t, err)
	assert.Equal(t, "Hey, Bo! Hey", out.Body)
	assert.Equal(t, tpl.ID, out.TemplateID)

	_, err = r.Render(ctx, tpl.ID, map[string]string{})
	require.ErrorIs(t, err, pkgerrors.RenderError)
	assert.Contains(t, err.Error(), "firstName, greeting")

	_, err = r.Render(ctx, 404, nil)
	assert.ErrorIs(t, err, pkgerrors.TemplateNotFound)
}

func TestPlaceholderRenderer_EmptyMessage(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	r := NewPlaceholderRenderer(store)

	text := &model.Template{Name: "blank", Body: "{{ x }}"}
	require.NoError(t, store.CreateTemplate(ctx, text))
	_, err := r.Render(ctx, text.ID, map[string]string{"x": "  "})
	assert.ErrorIs(t, err, pkgerrors.RenderError)

	media := &model.Template{Name: "image only", Body: "", MediaURL: "https://cdn.example.com/a.png", MediaType: "image"}
	require.NoError(t, store.CreateTemplate(ctx, media))
	out, err := r.Render(ctx, media.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "image", out.MediaType)
}

func TestSubstitute_IgnoresMalformedPlaceholders(t *testing.T) {
	out, err := substitute("price {{ 1x }} and {single}", nil)
	require.NoError(t, err)
	assert.Equal(t, "price {{ 1x }} and {single}", out)
}
