package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/crud"
)

func TestSelectBuilder_Build(t *testing.T) {
	c := testCompiler(t)

	t.Run("full select with join sort and window", func(t *testing.T) {
		limit, offset := 10, 20
		sql, args, err := c.NewSelect().
			WithFields([]string{"name"}).
			WithSearch(search(t, `{"name":"a"}`)).
			WithJoins([]crud.QueryJoin{{Field: "profile", Select: []string{"city"}}}).
			WithSort([]crud.QuerySort{{Field: "name", Order: crud.SortAsc}}).
			WithLimit(&limit).
			WithOffset(&offset).
			Build()
		require.NoError(t, err)

		assert.Equal(t,
			`SELECT "users"."name", "users"."id", `+
				`"profile"."city" AS "profile.city", "profile"."id" AS "profile.id" `+
				`FROM "public"."users" `+
				`LEFT JOIN "public"."profiles" "profile" ON "profile"."user_id" = "users"."id" `+
				`WHERE "users"."name" = $1 AND "users"."deleted_at" IS NULL `+
				`ORDER BY "users"."name" ASC LIMIT $2 OFFSET $3`,
			sql)
		assert.Equal(t, []any{"a", 10, 20}, args)
	})

	t.Run("count twin drops projection order and window", func(t *testing.T) {
		limit := 10
		builder := c.NewSelect().
			WithSearch(search(t, `{"name":"a"}`)).
			WithSort([]crud.QuerySort{{Field: "name", Order: crud.SortDesc}}).
			WithLimit(&limit)

		sql, args, err := builder.BuildCount()
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT count(*) FROM "public"."users" `+
				`WHERE "users"."name" = $1 AND "users"."deleted_at" IS NULL`,
			sql)
		assert.Equal(t, []any{"a"}, args)
	})

	t.Run("include deleted removes the guard", func(t *testing.T) {
		sql, _, err := c.NewSelect().
			WithFields([]string{"name"}).
			WithIncludeDeleted(true).
			Build()
		require.NoError(t, err)
		assert.NotContains(t, sql, "deleted_at")
	})

	t.Run("undeclared join is skipped without error", func(t *testing.T) {
		sql, _, err := c.NewSelect().
			WithFields([]string{"name"}).
			WithJoins([]crud.QueryJoin{{Field: "orders"}}).
			Build()
		require.NoError(t, err)
		assert.NotContains(t, sql, "JOIN")
	})

	t.Run("condition on unjoined relation fails", func(t *testing.T) {
		_, _, err := c.NewSelect().
			WithSearch(search(t, `{"profile.city":"berlin"}`)).
			Build()
		require.Error(t, err)
		assert.True(t, crud.IsColumnAuthorizationError(err))
	})

	t.Run("joined relation condition resolves through the alias", func(t *testing.T) {
		sql, args, err := c.NewSelect().
			WithFields([]string{"name"}).
			WithSearch(search(t, `{"profile.city":"berlin"}`)).
			WithJoins([]crud.QueryJoin{{Field: "profile"}}).
			Build()
		require.NoError(t, err)
		assert.Contains(t, sql, `"profile"."city" = $1`)
		assert.Equal(t, []any{"berlin"}, args)
	})

	t.Run("join on conditions bind before the where clause", func(t *testing.T) {
		sql, args, err := c.NewSelect().
			WithFields([]string{"name"}).
			WithSearch(search(t, `{"name":"a"}`)).
			WithJoins([]crud.QueryJoin{{
				Field: "profile",
				On:    []crud.QueryFilter{{Field: "profile.city", Operator: crud.OpEq, Value: "berlin"}},
			}}).
			Build()
		require.NoError(t, err)
		assert.Contains(t, sql,
			`ON "profile"."user_id" = "users"."id" AND "profile"."city" = $1`)
		assert.Equal(t, []any{"berlin", "a"}, args)
	})

	t.Run("duplicate join emitted once", func(t *testing.T) {
		sql, _, err := c.NewSelect().
			WithFields([]string{"name"}).
			WithJoins([]crud.QueryJoin{{Field: "profile"}, {Field: "profile"}}).
			Build()
		require.NoError(t, err)
		assert.Equal(t, 1, countOccurrences(sql, "LEFT JOIN"))
	})

	t.Run("required relation joins with INNER", func(t *testing.T) {
		users, rels := testTables()
		res, err := NewResource(config.ResourceConfig{
			Name:   "users",
			Schema: "public",
			Table:  "users",
			Relations: []config.RelationConfig{{
				Name:       "profile",
				Schema:     "public",
				Table:      "profiles",
				LocalKey:   "id",
				ForeignKey: "user_id",
				Required:   true,
			}},
		}, users, rels)
		require.NoError(t, err)

		sql, _, err := New(res, DialectPostgres).NewSelect().
			WithFields([]string{"name"}).
			WithJoins([]crud.QueryJoin{{Field: "profile"}}).
			Build()
		require.NoError(t, err)
		assert.Contains(t, sql, "INNER JOIN")
	})
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}

func TestCompiler_BuildInsert(t *testing.T) {
	c := testCompiler(t)

	t.Run("allow-listed columns only", func(t *testing.T) {
		sql, args, err := c.BuildInsert(map[string]any{
			"name":   "john",
			"secret": "x",
			"nope":   "y",
		})
		require.NoError(t, err)
		assert.Equal(t,
			`INSERT INTO "public"."users" ("name") VALUES ($1) RETURNING *`, sql)
		assert.Equal(t, []any{"john"}, args)
	})

	t.Run("columns in deterministic order", func(t *testing.T) {
		sql, _, err := c.BuildInsert(map[string]any{
			"name": "a",
			"age":  30,
			"email": "a@b.c",
		})
		require.NoError(t, err)
		assert.Contains(t, sql, `("age", "email", "name")`)
	})

	t.Run("nothing usable fails", func(t *testing.T) {
		_, _, err := c.BuildInsert(map[string]any{"secret": "x"})
		assert.ErrorIs(t, err, crud.ErrEmptyPayload)
	})
}

func TestCompiler_BuildInsertMany(t *testing.T) {
	c := testCompiler(t)

	sql, args, err := c.BuildInsertMany([]map[string]any{
		{"name": "a", "age": 1},
		{"name": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "public"."users" ("age", "name") VALUES ($1, $2), ($3, $4) RETURNING *`,
		sql)
	assert.Equal(t, []any{1, "a", nil, "b"}, args)

	_, _, err = c.BuildInsertMany(nil)
	assert.ErrorIs(t, err, crud.ErrEmptyPayload)
}

func TestCompiler_BuildUpdate(t *testing.T) {
	c := testCompiler(t)

	t.Run("set with guarded condition", func(t *testing.T) {
		sql, args, err := c.BuildUpdate(
			map[string]any{"name": "new"},
			search(t, `{"id":5}`),
			false,
		)
		require.NoError(t, err)
		assert.Equal(t,
			`UPDATE "public"."users" SET "name" = $1 `+
				`WHERE "users"."id" = $2 AND "users"."deleted_at" IS NULL RETURNING *`,
			sql)
		assert.Equal(t, []any{"new", int64(5)}, args)
	})

	t.Run("refuses unconditional update", func(t *testing.T) {
		_, _, err := c.BuildUpdate(map[string]any{"name": "x"}, nil, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "without a condition")
	})
}

func TestCompiler_BuildReplace(t *testing.T) {
	c := testCompiler(t)

	t.Run("upserts on the primary key", func(t *testing.T) {
		sql, args, err := c.BuildReplace(map[string]any{"id": 5, "name": "x"})
		require.NoError(t, err)
		assert.Equal(t,
			`INSERT INTO "public"."users" ("id", "name") VALUES ($1, $2) `+
				`ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name" RETURNING *`,
			sql)
		assert.Equal(t, []any{5, "x"}, args)
	})

	t.Run("missing primary key fails", func(t *testing.T) {
		_, _, err := c.BuildReplace(map[string]any{"name": "x"})
		require.Error(t, err)
		assert.True(t, crud.IsQueryParseError(err))
	})
}

func TestCompiler_BuildDelete(t *testing.T) {
	c := testCompiler(t)

	t.Run("soft delete stamps the delete column", func(t *testing.T) {
		sql, args, err := c.BuildDelete(search(t, `{"id":5}`), true)
		require.NoError(t, err)
		assert.Equal(t,
			`UPDATE "public"."users" SET "deleted_at" = now() `+
				`WHERE "users"."id" = $1 AND "users"."deleted_at" IS NULL RETURNING *`,
			sql)
		assert.Equal(t, []any{int64(5)}, args)
	})

	t.Run("hard delete", func(t *testing.T) {
		sql, _, err := c.BuildDelete(search(t, `{"id":5}`), false)
		require.NoError(t, err)
		assert.Equal(t,
			`DELETE FROM "public"."users" WHERE "users"."id" = $1 RETURNING *`, sql)
	})

	t.Run("refuses unconditional delete", func(t *testing.T) {
		_, _, err := c.BuildDelete(nil, false)
		assert.Error(t, err)
	})
}

func TestCompiler_BuildRecover(t *testing.T) {
	c := testCompiler(t)

	sql, args, err := c.BuildRecover(search(t, `{"id":5}`))
	require.NoError(t, err)
	assert.Equal(t,
		`UPDATE "public"."users" SET "deleted_at" = NULL `+
			`WHERE "users"."id" = $1 AND "users"."deleted_at" IS NOT NULL RETURNING *`,
		sql)
	assert.Equal(t, []any{int64(5)}, args)

	_, _, err = c.BuildRecover(nil)
	assert.Error(t, err)
}
