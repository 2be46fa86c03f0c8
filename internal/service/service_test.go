package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crudkit-io/crudkit/internal/compiler"
	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/schema"
)

func testService(t *testing.T, qc config.QueryConfig, rc config.ResourceConfig) *CrudService {
	t.Helper()
	users := schema.NewTable("public", "users", []schema.Column{
		{Name: "id", DataType: "integer", UDTName: "int4"},
		{Name: "name", DataType: "text", UDTName: "text"},
		{Name: "owner_id", DataType: "integer", UDTName: "int4"},
	}, []string{"id"}, "")

	rc.Name = "users"
	rc.Table = "users"
	res, err := compiler.NewResource(rc, users, nil)
	require.NoError(t, err)
	comp := compiler.New(res, compiler.DialectPostgres)
	return NewCrudService(nil, comp, &qc, rc, nil, nil)
}

func TestCrudService_ShallowRow(t *testing.T) {
	row := map[string]any{"id": int64(5), "name": "a", "owner_id": int64(1)}

	t.Run("disabled returns the full row", func(t *testing.T) {
		s := testService(t, config.QueryConfig{}, config.ResourceConfig{})
		assert.Equal(t, row, s.shallowRow(row))
	})

	t.Run("enabled keeps only primary keys", func(t *testing.T) {
		s := testService(t, config.QueryConfig{ReturnShallow: true}, config.ResourceConfig{})
		assert.Equal(t, map[string]any{"id": int64(5)}, s.shallowRow(row))
	})
}

func TestResolveOptions(t *testing.T) {
	qc := config.QueryConfig{
		DefaultLimit:   25,
		MaxLimit:       100,
		SoftDelete:     true,
		AlwaysPaginate: false,
		CacheTTL:       30,
	}

	t.Run("defaults pass through", func(t *testing.T) {
		opts := ResolveOptions(&qc, config.ResourceConfig{})
		assert.Equal(t, 25, opts.DefaultLimit)
		assert.Equal(t, 100, opts.MaxLimit)
		assert.True(t, opts.SoftDelete)
		assert.False(t, opts.AlwaysPaginate)
	})

	t.Run("route overrides win", func(t *testing.T) {
		maxLimit := 10
		always := true
		soft := false
		opts := ResolveOptions(&qc, config.ResourceConfig{
			MaxLimit:       &maxLimit,
			AlwaysPaginate: &always,
			SoftDelete:     &soft,
		})
		assert.Equal(t, 10, opts.MaxLimit)
		assert.True(t, opts.AlwaysPaginate)
		assert.False(t, opts.SoftDelete)
	})
}

func TestOptions_ClampLimit(t *testing.T) {
	opts := Options{DefaultLimit: 25, MaxLimit: 100}

	t.Run("nil uses default", func(t *testing.T) {
		assert.Equal(t, 25, opts.clampLimit(nil))
	})

	t.Run("request within cap", func(t *testing.T) {
		limit := 50
		assert.Equal(t, 50, opts.clampLimit(&limit))
	})

	t.Run("request above cap clamps", func(t *testing.T) {
		limit := 500
		assert.Equal(t, 100, opts.clampLimit(&limit))
	})

	t.Run("zero request means unlimited but cap applies", func(t *testing.T) {
		limit := 0
		assert.Equal(t, 100, opts.clampLimit(&limit))
	})

	t.Run("uncapped", func(t *testing.T) {
		open := Options{}
		limit := 500
		assert.Equal(t, 500, open.clampLimit(&limit))
	})
}

func TestNewGetManyResponse(t *testing.T) {
	rows := func(n int) []map[string]any {
		out := make([]map[string]any, n)
		for i := range out {
			out[i] = map[string]any{"id": i}
		}
		return out
	}

	t.Run("pagination envelope", func(t *testing.T) {
		resp := newGetManyResponse(rows(10), 25, 10, 2)
		assert.Equal(t, 10, resp.Count)
		assert.Equal(t, 25, resp.Total)
		assert.Equal(t, 2, resp.Page)
		assert.Equal(t, 3, resp.PageCount)
	})

	t.Run("zero limit yields a single page", func(t *testing.T) {
		resp := newGetManyResponse(rows(3), 3, 0, 1)
		assert.Equal(t, 1, resp.PageCount)
	})

	t.Run("nil data becomes empty slice", func(t *testing.T) {
		resp := newGetManyResponse(nil, 0, 10, 1)
		assert.NotNil(t, resp.Data)
		assert.Equal(t, 0, resp.Count)
		assert.Equal(t, 1, resp.PageCount)
	})
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("users", "SELECT 1", []any{1, "x"})
	b := CacheKey("users", "SELECT 1", []any{1, "x"})
	c := CacheKey("users", "SELECT 1", []any{2, "x"})
	d := CacheKey("posts", "SELECT 1", []any{1, "x"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Contains(t, a, "crudkit:query:users:")
}

func TestMergePersist(t *testing.T) {
	payload := map[string]any{"name": "a", "owner_id": 1}
	merged := mergePersist(payload, map[string]any{"owner_id": 42})

	assert.Equal(t, 42, merged["owner_id"])
	assert.Equal(t, "a", merged["name"])
	// Source payload is untouched.
	assert.Equal(t, 1, payload["owner_id"])
}

func TestQueryCache_NilSafe(t *testing.T) {
	var cache *QueryCache
	var out []map[string]any
	assert.False(t, cache.Get(t.Context(), "k", &out))
	assert.NotPanics(t, func() {
		cache.Set(t.Context(), "k", out, 0)
	})
}
