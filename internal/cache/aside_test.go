package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedBlog struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

func setupMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() {
		_ = Close()
		mr.Close()
	})
	return mr
}

func TestAside_WithoutClientCallsLoader(t *testing.T) {
	SetClient(nil)
	calls := 0
	var out cachedBlog
	err := Aside(context.Background(), BlogKey(1), &out, BlogTTL, func() error {
		calls++
		out = cachedBlog{ID: 1, Title: "Sports Day"}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Sports Day", out.Title)
}

func TestAside_CachesLoadedValue(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()
	calls := 0
	load := func(dst *cachedBlog) func() error {
		return func() error {
			calls++
			*dst = cachedBlog{ID: 7, Title: "Science Fair"}
			return nil
		}
	}

	var first cachedBlog
	require.NoError(t, Aside(ctx, BlogKey(7), &first, BlogTTL, load(&first)))
	var second cachedBlog
	require.NoError(t, Aside(ctx, BlogKey(7), &second, BlogTTL, load(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(BlogKey(7)))
	assert.Equal(t, BlogTTL, mr.TTL(BlogKey(7)))
}

func TestAside_LoaderErrorIsNotCached(t *testing.T) {
	mr := setupMiniredis(t)
	var out cachedBlog
	boom := errors.New("db down")

	err := Aside(context.Background(), BlogKey(3), &out, BlogTTL, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(BlogKey(3)))
}

func TestAside_CorruptEntryIsReloaded(t *testing.T) {
	mr := setupMiniredis(t)
	require.NoError(t, mr.Set(BlogKey(4), "{not json"))

	var out cachedBlog
	err := Aside(context.Background(), BlogKey(4), &out, BlogTTL, func() error {
		out = cachedBlog{ID: 4, Title: "Reloaded"}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Reloaded", out.Title)
}

func TestInvalidateBlogBumpsListVersion(t *testing.T) {
	setupMiniredis(t)
	ctx := context.Background()

	before := BlogListKey(ctx, "school:1")
	InvalidateBlog(ctx, 9)
	after := BlogListKey(ctx, "school:1")

	assert.NotEqual(t, before, after)
	assert.Equal(t, "blogs:list:v1:school:1", after)
}

func TestInvalidateWithoutClientIsNoop(t *testing.T) {
	SetClient(nil)
	assert.NotPanics(t, func() {
		InvalidateSchool(context.Background(), 1)
		InvalidateBlog(context.Background(), 2)
	})
	assert.Equal(t, "blogs:list:v0:all", BlogListKey(context.Background(), "all"))
}
