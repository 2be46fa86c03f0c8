package config

import "fmt"

// Default wire names for the logical query parameters. Deployments may remap
// any of them through query.param_names.
var defaultParamNames = map[string]string{
	"search":         "search",
	"filter":         "filter",
	"or":             "or",
	"sort":           "sort",
	"join":           "join",
	"fields":         "fields",
	"limit":          "limit",
	"offset":         "offset",
	"page":           "page",
	"cache":          "cache",
	"includeDeleted": "includeDeleted",
	"extra":          "extra",
}

// QueryConfig declares the wire grammar of the query-condition language and
// process-wide defaults for pagination and soft-delete behavior. It is set
// once at startup and passed by reference into the parser and compiler.
type QueryConfig struct {
	// Delim separates field, operator and value inside a filter triple.
	Delim string `mapstructure:"delim"`
	// DelimStr separates elements of array values and sort directions.
	DelimStr string `mapstructure:"delim_str"`
	// ParamNames remaps logical parameter names (e.g. "filter" -> "f").
	ParamNames map[string]string `mapstructure:"param_names"`
	// DefaultLimit applies when the client sends no limit; 0 means none.
	DefaultLimit int `mapstructure:"default_limit"`
	// MaxLimit caps client-supplied limits; 0 means uncapped.
	MaxLimit int `mapstructure:"max_limit"`
	// AlwaysPaginate forces the paged envelope on every getMany response.
	AlwaysPaginate bool `mapstructure:"always_paginate"`
	// SoftDelete makes deleteOne soft-delete by default.
	SoftDelete bool `mapstructure:"soft_delete"`
	// AllowParamsOverride lets client filters override route-parameter filters.
	AllowParamsOverride bool `mapstructure:"allow_params_override"`
	// ReturnShallow reduces write responses to the primary-key columns.
	ReturnShallow bool `mapstructure:"return_shallow"`
	// CacheTTL is the default query-cache TTL in seconds; 0 disables caching
	// unless the client asks for it via the cache parameter.
	CacheTTL int `mapstructure:"cache_ttl"`
}

// ParamName resolves the wire name of a logical query parameter.
func (qc *QueryConfig) ParamName(logical string) string {
	if qc.ParamNames != nil {
		if name, ok := qc.ParamNames[logical]; ok && name != "" {
			return name
		}
	}
	return defaultParamNames[logical]
}

// Validate validates the query grammar configuration.
func (qc *QueryConfig) Validate() error {
	if qc.Delim == "" {
		return fmt.Errorf("query delim must not be empty")
	}
	if qc.DelimStr == "" {
		return fmt.Errorf("query delim_str must not be empty")
	}
	if qc.Delim == qc.DelimStr {
		return fmt.Errorf("query delim and delim_str must differ, both are %q", qc.Delim)
	}
	if qc.DefaultLimit < 0 {
		return fmt.Errorf("query default_limit must not be negative, got: %d", qc.DefaultLimit)
	}
	if qc.MaxLimit < 0 {
		return fmt.Errorf("query max_limit must not be negative, got: %d", qc.MaxLimit)
	}
	for logical := range qc.ParamNames {
		if _, ok := defaultParamNames[logical]; !ok {
			return fmt.Errorf("query param_names contains unknown logical name %q", logical)
		}
	}
	return nil
}
