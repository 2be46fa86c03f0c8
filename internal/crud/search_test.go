package crud

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCondition_UnmarshalJSON(t *testing.T) {
	t.Run("bare scalar means equality", func(t *testing.T) {
		var s SearchCondition
		require.NoError(t, json.Unmarshal([]byte(`{"name":"john"}`), &s))
		require.Len(t, s.Fields, 1)
		assert.Equal(t, "name", s.Fields[0].Field)
		assert.True(t, s.Fields[0].HasScalar)
		assert.Equal(t, "john", s.Fields[0].Scalar)
	})

	t.Run("null scalar is preserved", func(t *testing.T) {
		var s SearchCondition
		require.NoError(t, json.Unmarshal([]byte(`{"deleted_at":null}`), &s))
		require.Len(t, s.Fields, 1)
		assert.True(t, s.Fields[0].HasScalar)
		assert.Nil(t, s.Fields[0].Scalar)
	})

	t.Run("operator map preserves order", func(t *testing.T) {
		var s SearchCondition
		require.NoError(t, json.Unmarshal([]byte(`{"age":{"$gte":18,"$lte":65}}`), &s))
		require.Len(t, s.Fields, 1)
		require.Len(t, s.Fields[0].Ops, 2)
		assert.Equal(t, OpGte, s.Fields[0].Ops[0].Operator)
		assert.Equal(t, int64(18), s.Fields[0].Ops[0].Value)
		assert.Equal(t, OpLte, s.Fields[0].Ops[1].Operator)
	})

	t.Run("field level or", func(t *testing.T) {
		var s SearchCondition
		require.NoError(t, json.Unmarshal(
			[]byte(`{"name":{"$cont":"a","$or":{"$eq":"b","$starts":"c"}}}`), &s))
		require.Len(t, s.Fields, 1)
		fc := s.Fields[0]
		require.Len(t, fc.Ops, 1)
		assert.Equal(t, OpCont, fc.Ops[0].Operator)
		require.Len(t, fc.OrOps, 2)
		assert.Equal(t, OpEq, fc.OrOps[0].Operator)
		assert.Equal(t, OpStarts, fc.OrOps[1].Operator)
	})

	t.Run("nested combinators", func(t *testing.T) {
		var s SearchCondition
		require.NoError(t, json.Unmarshal(
			[]byte(`{"$or":[{"name":"a"},{"$and":[{"x":1},{"y":2}]}]}`), &s))
		require.Len(t, s.Or, 2)
		assert.Len(t, s.Or[0].Fields, 1)
		require.Len(t, s.Or[1].And, 2)
	})

	t.Run("not combinator", func(t *testing.T) {
		var s SearchCondition
		require.NoError(t, json.Unmarshal(
			[]byte(`{"$not":[{"status":"archived"}]}`), &s))
		require.Len(t, s.Not, 1)
	})

	t.Run("fields and or group on one node", func(t *testing.T) {
		var s SearchCondition
		require.NoError(t, json.Unmarshal(
			[]byte(`{"active":true,"$or":[{"a":1},{"b":2}]}`), &s))
		assert.Len(t, s.Fields, 1)
		assert.Len(t, s.Or, 2)
	})

	t.Run("array scalar", func(t *testing.T) {
		var s SearchCondition
		require.NoError(t, json.Unmarshal([]byte(`{"id":[1,2,3]}`), &s))
		require.Len(t, s.Fields, 1)
		assert.Equal(t, []any{int64(1), int64(2), int64(3)}, s.Fields[0].Scalar)
	})

	t.Run("empty combinator array is rejected", func(t *testing.T) {
		var s SearchCondition
		assert.Error(t, json.Unmarshal([]byte(`{"$and":[]}`), &s))
	})

	t.Run("empty field level or is rejected", func(t *testing.T) {
		var s SearchCondition
		assert.Error(t, json.Unmarshal([]byte(`{"name":{"$or":{}}}`), &s))
	})

	t.Run("non object input is rejected", func(t *testing.T) {
		var s SearchCondition
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &s))
	})
}

func TestSearchCondition_MarshalRoundTrip(t *testing.T) {
	inputs := []string{
		`{"name":"john"}`,
		`{"age":{"$gte":18,"$lte":65}}`,
		`{"$or":[{"a":1},{"b":2}]}`,
		`{"$and":[{"x":{"$ne":null}},{"$not":[{"y":3}]}]}`,
		`{"name":{"$cont":"a","$or":{"$eq":"b"}}}`,
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			var s SearchCondition
			require.NoError(t, json.Unmarshal([]byte(input), &s))
			out, err := json.Marshal(&s)
			require.NoError(t, err)
			assert.JSONEq(t, input, string(out))

			var again SearchCondition
			require.NoError(t, json.Unmarshal(out, &again))
			assert.Equal(t, s, again)
		})
	}
}

func TestBuildClientSearch(t *testing.T) {
	f := func(field string, value any) QueryFilter {
		return QueryFilter{Field: field, Operator: OpEq, Value: value}
	}

	t.Run("nothing yields nil", func(t *testing.T) {
		assert.Nil(t, BuildClientSearch(nil, nil))
	})

	t.Run("single filter collapses", func(t *testing.T) {
		s := BuildClientSearch([]QueryFilter{f("a", 1)}, nil)
		require.Len(t, s.Fields, 1)
		assert.Empty(t, s.And)
	})

	t.Run("multiple filters produce and group", func(t *testing.T) {
		s := BuildClientSearch([]QueryFilter{f("a", 1), f("b", 2)}, nil)
		assert.Len(t, s.And, 2)
	})

	t.Run("single or passes through", func(t *testing.T) {
		s := BuildClientSearch(nil, []QueryFilter{f("a", 1)})
		require.Len(t, s.Fields, 1)
		assert.Empty(t, s.Or)
	})

	t.Run("multiple ors wrap", func(t *testing.T) {
		s := BuildClientSearch(nil, []QueryFilter{f("a", 1), f("b", 2)})
		assert.Len(t, s.Or, 2)
	})

	t.Run("one of each produces or pair", func(t *testing.T) {
		s := BuildClientSearch([]QueryFilter{f("a", 1)}, []QueryFilter{f("b", 2)})
		require.Len(t, s.Or, 2)
		assert.Equal(t, "a", s.Or[0].Fields[0].Field)
		assert.Equal(t, "b", s.Or[1].Fields[0].Field)
	})

	t.Run("multiple of each produce or of and groups", func(t *testing.T) {
		s := BuildClientSearch(
			[]QueryFilter{f("a", 1), f("b", 2)},
			[]QueryFilter{f("c", 3), f("d", 4)},
		)
		require.Len(t, s.Or, 2)
		assert.Len(t, s.Or[0].And, 2)
		assert.Len(t, s.Or[1].And, 2)
	})
}

func TestConvertFilterToSearch(t *testing.T) {
	s := ConvertFilterToSearch(QueryFilter{Field: "age", Operator: OpGt, Value: int64(5)})
	require.Len(t, s.Fields, 1)
	require.Len(t, s.Fields[0].Ops, 1)
	assert.Equal(t, OpGt, s.Fields[0].Ops[0].Operator)
	assert.Equal(t, int64(5), s.Fields[0].Ops[0].Value)
}

func TestSearchCondition_IsEmpty(t *testing.T) {
	var nilCond *SearchCondition
	assert.True(t, nilCond.IsEmpty())
	assert.True(t, (&SearchCondition{}).IsEmpty())
	assert.False(t, SearchField("a", OpEq, 1).IsEmpty())
}

func TestComposeSearch(t *testing.T) {
	f := func(field string, value any) QueryFilter {
		return QueryFilter{Field: field, Operator: OpEq, Value: value}
	}

	t.Run("nothing yields nil", func(t *testing.T) {
		assert.Nil(t, ComposeSearch(nil, nil, nil, false))
	})

	t.Run("params only collapse", func(t *testing.T) {
		s := ComposeSearch([]QueryFilter{f("id", 5)}, nil, nil, false)
		require.Len(t, s.Fields, 1)
		assert.Equal(t, "id", s.Fields[0].Field)
	})

	t.Run("client only passes through", func(t *testing.T) {
		client := SearchField("name", OpEq, "a")
		assert.Same(t, client, ComposeSearch(nil, nil, client, false))
	})

	t.Run("params and client are anded", func(t *testing.T) {
		s := ComposeSearch(
			[]QueryFilter{f("id", 5)},
			nil,
			SearchField("name", OpEq, "a"),
			false,
		)
		require.Len(t, s.And, 2)
		assert.Equal(t, "id", s.And[0].Fields[0].Field)
		assert.Equal(t, "name", s.And[1].Fields[0].Field)
	})

	t.Run("base sits between params and client", func(t *testing.T) {
		s := ComposeSearch(
			[]QueryFilter{f("id", 5)},
			SearchField("published", OpEq, true),
			SearchField("name", OpEq, "a"),
			false,
		)
		require.Len(t, s.And, 3)
		assert.Equal(t, "id", s.And[0].Fields[0].Field)
		assert.Equal(t, "published", s.And[1].Fields[0].Field)
		assert.Equal(t, "name", s.And[2].Fields[0].Field)
	})

	t.Run("multiple params group before the client", func(t *testing.T) {
		s := ComposeSearch(
			[]QueryFilter{f("org_id", 1), f("id", 5)},
			nil,
			SearchField("name", OpEq, "a"),
			false,
		)
		require.Len(t, s.And, 2)
		assert.Len(t, s.And[0].And, 2)
	})

	t.Run("override drops shadowed params", func(t *testing.T) {
		s := ComposeSearch(
			[]QueryFilter{f("owner_id", 1), f("id", 5)},
			nil,
			SearchField("owner_id", OpEq, 2),
			true,
		)
		// owner_id comes from the client, id from the route.
		require.Len(t, s.And, 2)
		assert.Equal(t, "id", s.And[0].Fields[0].Field)
		assert.Equal(t, "owner_id", s.And[1].Fields[0].Field)
		assert.Equal(t, 2, s.And[1].Fields[0].Ops[0].Value)
	})

	t.Run("override looks through nested groups", func(t *testing.T) {
		client := SearchNot(SearchField("owner_id", OpEq, 2))
		s := ComposeSearch([]QueryFilter{f("owner_id", 1)}, nil, client, true)
		assert.Same(t, client, s)
	})

	t.Run("without override params always apply", func(t *testing.T) {
		s := ComposeSearch(
			[]QueryFilter{f("owner_id", 1)},
			nil,
			SearchField("owner_id", OpEq, 2),
			false,
		)
		require.Len(t, s.And, 2)
	})
}
