package crud

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crudkit-io/crudkit/internal/config"
)

func testQueryConfig() *config.QueryConfig {
	return &config.QueryConfig{
		Delim:    "||",
		DelimStr: ",",
	}
}

func TestParser_ParseCondition(t *testing.T) {
	parser := NewParser(testQueryConfig())

	tests := []struct {
		name     string
		raw      string
		expected QueryFilter
	}{
		{
			name:     "string equality",
			raw:      "name||$eq||john",
			expected: QueryFilter{Field: "name", Operator: OpEq, Value: "john"},
		},
		{
			name:     "operator without dollar prefix",
			raw:      "name||eq||john",
			expected: QueryFilter{Field: "name", Operator: OpEq, Value: "john"},
		},
		{
			name:     "integer value",
			raw:      "age||$gt||18",
			expected: QueryFilter{Field: "age", Operator: OpGt, Value: int64(18)},
		},
		{
			name:     "boolean value",
			raw:      "active||$eq||true",
			expected: QueryFilter{Field: "active", Operator: OpEq, Value: true},
		},
		{
			name:     "dotted relation field",
			raw:      "profile.city||$eq||berlin",
			expected: QueryFilter{Field: "profile.city", Operator: OpEq, Value: "berlin"},
		},
		{
			name: "array operator splits value",
			raw:  "status||$in||draft,published",
			expected: QueryFilter{
				Field:    "status",
				Operator: OpIn,
				Value:    []any{"draft", "published"},
			},
		},
		{
			name:     "empty value operator",
			raw:      "deleted_at||$isnull",
			expected: QueryFilter{Field: "deleted_at", Operator: OpIsNull},
		},
		{
			name: "between with two bounds",
			raw:  "age||$between||18,65",
			expected: QueryFilter{
				Field:    "age",
				Operator: OpBetween,
				Value:    []any{int64(18), int64(65)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parser.ParseCondition(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f)
		})
	}
}

func TestParser_ParseCondition_Errors(t *testing.T) {
	parser := NewParser(testQueryConfig())

	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing operator", raw: "name"},
		{name: "empty field", raw: "||$eq||x"},
		{name: "unknown operator", raw: "name||$bogus||x"},
		{name: "missing value", raw: "name||$eq"},
		{name: "empty array value", raw: "id||$in||"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.ParseCondition(tt.raw)
			require.Error(t, err)
			assert.True(t, IsQueryParseError(err))
		})
	}
}

func TestParser_ParseCondition_CustomOperator(t *testing.T) {
	custom := CustomOperatorFunc{
		Name: "$gtdate",
		CompileFn: func(field string, value any, bind func(any) string) (string, error) {
			return field + " > " + bind(value), nil
		},
	}
	parser := NewParser(testQueryConfig(), custom)

	f, err := parser.ParseCondition("created_at||$gtdate||2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, ComparisonOperator("$gtdate"), f.Operator)

	_, err = NewParser(testQueryConfig()).ParseCondition("created_at||$gtdate||2024-01-01")
	assert.Error(t, err)
}

func TestParser_ParseQuery(t *testing.T) {
	parser := NewParser(testQueryConfig())

	t.Run("fields and sort and pagination", func(t *testing.T) {
		values, _ := url.ParseQuery("fields=id,name&sort=name,ASC&sort=id,DESC&limit=10&offset=20")
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)

		assert.Equal(t, []string{"id", "name"}, req.Fields)
		require.Len(t, req.Sort, 2)
		assert.Equal(t, QuerySort{Field: "name", Order: SortAsc}, req.Sort[0])
		assert.Equal(t, QuerySort{Field: "id", Order: SortDesc}, req.Sort[1])
		require.NotNil(t, req.Limit)
		assert.Equal(t, 10, *req.Limit)
		require.NotNil(t, req.Offset)
		assert.Equal(t, 20, *req.Offset)
	})

	t.Run("filter and or are collected", func(t *testing.T) {
		values, _ := url.ParseQuery("filter=a||$eq||1&filter=b||$eq||2&or=c||$eq||3")
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)
		assert.Len(t, req.Filter, 2)
		assert.Len(t, req.Or, 1)
		assert.Nil(t, req.Search)
	})

	t.Run("indexed filter keys", func(t *testing.T) {
		values, _ := url.ParseQuery("filter[1]=b||$eq||2&filter[0]=a||$eq||1")
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)
		require.Len(t, req.Filter, 2)
		assert.Equal(t, "a", req.Filter[0].Field)
		assert.Equal(t, "b", req.Filter[1].Field)
	})

	t.Run("search supersedes filter and or", func(t *testing.T) {
		values, _ := url.ParseQuery(`search={"name":"john"}&filter=a||$eq||1&or=b||$eq||2`)
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)
		require.NotNil(t, req.Search)
		assert.Empty(t, req.Filter)
		assert.Empty(t, req.Or)
	})

	t.Run("invalid search json", func(t *testing.T) {
		values, _ := url.ParseQuery(`search={"name"`)
		_, err := parser.ParseQuery(values)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid search param. JSON expected")
	})

	t.Run("join with projection and on conditions", func(t *testing.T) {
		values, _ := url.ParseQuery("join=" + url.QueryEscape("profile||city,zip||on[0]=profile.active||$eq||true"))
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)
		require.Len(t, req.Join, 1)
		assert.Equal(t, "profile", req.Join[0].Field)
		assert.Equal(t, []string{"city", "zip"}, req.Join[0].Select)
		require.Len(t, req.Join[0].On, 1)
		assert.Equal(t, "profile.active", req.Join[0].On[0].Field)
	})

	t.Run("bare join", func(t *testing.T) {
		values, _ := url.ParseQuery("join=profile")
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)
		require.Len(t, req.Join, 1)
		assert.Empty(t, req.Join[0].Select)
	})

	t.Run("include deleted flag", func(t *testing.T) {
		values, _ := url.ParseQuery("includeDeleted=1")
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)
		assert.True(t, req.IncludeDeleted)

		values, _ = url.ParseQuery("includeDeleted=0")
		req, err = parser.ParseQuery(values)
		require.NoError(t, err)
		assert.False(t, req.IncludeDeleted)
	})

	t.Run("cache parameter", func(t *testing.T) {
		values, _ := url.ParseQuery("cache=0")
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)
		require.NotNil(t, req.Cache)
		assert.Equal(t, 0, *req.Cache)
	})

	t.Run("negative int option is rejected", func(t *testing.T) {
		values, _ := url.ParseQuery("limit=-1")
		_, err := parser.ParseQuery(values)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid limit param")
	})

	t.Run("extra parameters nest by dotted key", func(t *testing.T) {
		values, _ := url.ParseQuery("extra.export.format=csv&extra.trace=1")
		req, err := parser.ParseQuery(values)
		require.NoError(t, err)
		require.NotNil(t, req.Extra)
		assert.Equal(t, int64(1), req.Extra["trace"])
		nested, ok := req.Extra["export"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "csv", nested["format"])
	})

	t.Run("sort with bad order", func(t *testing.T) {
		values, _ := url.ParseQuery("sort=name,SIDEWAYS")
		_, err := parser.ParseQuery(values)
		assert.Error(t, err)
	})
}

func TestParser_ParamNameRemap(t *testing.T) {
	cfg := testQueryConfig()
	cfg.ParamNames = map[string]string{"filter": "f", "limit": "take"}
	parser := NewParser(cfg)

	values, _ := url.ParseQuery("f=a||$eq||1&take=3")
	req, err := parser.ParseQuery(values)
	require.NoError(t, err)
	require.Len(t, req.Filter, 1)
	require.NotNil(t, req.Limit)
	assert.Equal(t, 3, *req.Limit)
}

func TestParseParams(t *testing.T) {
	descriptors := map[string]ParamDescriptor{
		"id":     {Field: "id", Type: ParamNumber, Primary: true},
		"userId": {Field: "user_id", Type: ParamUUID},
		"slug":   {Field: "slug", Type: ParamString},
		"legacy": {Field: "legacy", Disabled: true},
	}

	t.Run("typed parameters become equality filters", func(t *testing.T) {
		filters, err := ParseParams(map[string]string{
			"id":   "42",
			"slug": "hello",
		}, descriptors)
		require.NoError(t, err)
		require.Len(t, filters, 2)
		assert.Equal(t, QueryFilter{Field: "id", Operator: OpEq, Value: int64(42)}, filters[0])
		assert.Equal(t, QueryFilter{Field: "slug", Operator: OpEq, Value: "hello"}, filters[1])
	})

	t.Run("uuid parameter validated", func(t *testing.T) {
		filters, err := ParseParams(map[string]string{
			"userId": "6f9619ff-8b86-4d01-b42d-00cf4fc964ff",
		}, descriptors)
		require.NoError(t, err)
		require.Len(t, filters, 1)
		assert.Equal(t, "6f9619ff-8b86-4d01-b42d-00cf4fc964ff", filters[0].Value)
	})

	t.Run("invalid number", func(t *testing.T) {
		_, err := ParseParams(map[string]string{"id": "abc"}, descriptors)
		require.Error(t, err)
		assert.True(t, IsQueryParseError(err))
	})

	t.Run("invalid uuid", func(t *testing.T) {
		_, err := ParseParams(map[string]string{"userId": "nope"}, descriptors)
		assert.Error(t, err)
	})

	t.Run("unknown parameter", func(t *testing.T) {
		_, err := ParseParams(map[string]string{"other": "x"}, descriptors)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `Invalid route parameter "other"`)
	})

	t.Run("disabled parameter dropped", func(t *testing.T) {
		filters, err := ParseParams(map[string]string{"legacy": "x"}, descriptors)
		require.NoError(t, err)
		assert.Empty(t, filters)
	})
}

func TestCoerceValue(t *testing.T) {
	t.Run("plain string", func(t *testing.T) {
		assert.Equal(t, "hello", coerceValue("hello"))
	})

	t.Run("integer", func(t *testing.T) {
		assert.Equal(t, int64(42), coerceValue("42"))
	})

	t.Run("float", func(t *testing.T) {
		assert.Equal(t, 3.5, coerceValue("3.5"))
	})

	t.Run("boolean", func(t *testing.T) {
		assert.Equal(t, true, coerceValue("true"))
		assert.Equal(t, false, coerceValue("false"))
	})

	t.Run("null", func(t *testing.T) {
		assert.Nil(t, coerceValue("null"))
	})

	t.Run("huge integer keeps text to avoid precision loss", func(t *testing.T) {
		assert.Equal(t, "123456789012345678901", coerceValue("123456789012345678901"))
	})

	t.Run("json object stays raw", func(t *testing.T) {
		raw := `{"a":1}`
		assert.Equal(t, raw, coerceValue(raw))
	})

	t.Run("date formats", func(t *testing.T) {
		v := coerceValue("2024-06-01")
		ts, ok := v.(time.Time)
		require.True(t, ok)
		assert.Equal(t, 2024, ts.Year())

		v = coerceValue("2024-06-01T10:30:00Z")
		_, ok = v.(time.Time)
		assert.True(t, ok)
	})

	t.Run("leading zero stays string", func(t *testing.T) {
		assert.Equal(t, "007", coerceValue("007"))
	})
}
