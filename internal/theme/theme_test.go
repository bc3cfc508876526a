package theme

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gotodo/internal/store"
)

type recorder struct{ calls []string }

func (r *recorder) ApplyClass(theme string) { r.calls = append(r.calls, theme) }

func TestToggleAppliesOncePerChange(t *testing.T) {
	ctx := context.Background()
	gw := store.NewMemory()
	rec := &recorder{}
	s := New(gw, store.UserScope("u1"), rec)

	v, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Light, v)

	// loading again re-renders without re-applying
	_, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{Light}, rec.calls)

	v, err = s.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, Dark, v)
	assert.Equal(t, []string{Light, Dark}, rec.calls)

	raw, ok, err := gw.Get(ctx, store.UserScope("u1"), store.KeyTheme)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"dark"`, string(raw))

	require.NoError(t, s.Set(ctx, Dark))
	assert.Equal(t, []string{Light, Dark}, rec.calls)

	v, err = s.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, Light, v)
	assert.Equal(t, []string{Light, Dark, Light}, rec.calls)
}

func TestLoadPersistedDark(t *testing.T) {
	ctx := context.Background()
	gw := store.NewMemory()
	require.NoError(t, gw.Set(ctx, store.UserScope("u1"), store.KeyTheme, []byte(`"dark"`)))
	var applied []string
	s := New(gw, store.UserScope("u1"), ClassApplierFunc(func(t string) { applied = append(applied, t) }))
	v, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Dark, v)
	assert.Equal(t, []string{Dark}, applied)
	assert.Error(t, s.Set(ctx, "sepia"))
}

func TestToggleStartsFromStoredValue(t *testing.T) {
	ctx := context.Background()
	gw := store.NewMemory()
	server := New(gw, store.UserScope("u1"), nil)
	_, err := server.Load(ctx)
	require.NoError(t, err)

	// another writer flips the stored theme behind the cached state
	cli := New(gw, store.UserScope("u1"), nil)
	v, err := cli.Toggle(ctx)
	require.NoError(t, err)
	require.Equal(t, Dark, v)

	v, err = server.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, Light, v)
	assert.Equal(t, Light, server.Current())
}
