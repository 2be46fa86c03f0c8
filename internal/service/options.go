package service

import (
	"time"

	"github.com/crudkit-io/crudkit/internal/config"
)

// Options are the effective per-resource query settings: the process-wide
// defaults with the route's overrides applied.
type Options struct {
	DefaultLimit        int
	MaxLimit            int
	AlwaysPaginate      bool
	SoftDelete          bool
	AllowParamsOverride bool
	ReturnShallow       bool
	CacheTTL            time.Duration
}

// ResolveOptions merges the route declaration over the query defaults.
func ResolveOptions(qc *config.QueryConfig, rc config.ResourceConfig) Options {
	opts := Options{
		DefaultLimit:        qc.DefaultLimit,
		MaxLimit:            qc.MaxLimit,
		AlwaysPaginate:      qc.AlwaysPaginate,
		SoftDelete:          qc.SoftDelete,
		AllowParamsOverride: qc.AllowParamsOverride,
		ReturnShallow:       qc.ReturnShallow,
		CacheTTL:            time.Duration(qc.CacheTTL) * time.Second,
	}
	if rc.MaxLimit != nil {
		opts.MaxLimit = *rc.MaxLimit
	}
	if rc.AlwaysPaginate != nil {
		opts.AlwaysPaginate = *rc.AlwaysPaginate
	}
	if rc.SoftDelete != nil {
		opts.SoftDelete = *rc.SoftDelete
	}
	if rc.AllowParamsOverride != nil {
		opts.AllowParamsOverride = *rc.AllowParamsOverride
	}
	if rc.ReturnShallow != nil {
		opts.ReturnShallow = *rc.ReturnShallow
	}
	return opts
}

// clampLimit applies the default and cap to a client-requested limit. A nil
// request yields the default (which may be zero, meaning unlimited).
func (o Options) clampLimit(requested *int) int {
	limit := o.DefaultLimit
	if requested != nil {
		limit = *requested
	}
	if o.MaxLimit > 0 && (limit == 0 || limit > o.MaxLimit) {
		limit = o.MaxLimit
	}
	return limit
}
