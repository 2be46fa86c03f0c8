package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/crudkit-io/crudkit/internal/compiler"
	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/crud"
	"github.com/crudkit-io/crudkit/internal/logutil"
	"github.com/crudkit-io/crudkit/internal/observability"
)

// Querier is the database dependency of the service. *pgxpool.Pool satisfies
// it; tests substitute a stub.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CrudService executes parsed requests against one resource: it compiles the
// request's condition and runs the statement.
type CrudService struct {
	db      Querier
	comp    *compiler.Compiler
	opts    Options
	cache   *QueryCache
	metrics *observability.Metrics
}

// NewCrudService creates a service for one resource. cache and metrics may be
// nil.
func NewCrudService(db Querier, comp *compiler.Compiler, qc *config.QueryConfig, rc config.ResourceConfig, cache *QueryCache, metrics *observability.Metrics) *CrudService {
	return &CrudService{
		db:      db,
		comp:    comp,
		opts:    ResolveOptions(qc, rc),
		cache:   cache,
		metrics: metrics,
	}
}

// Options returns the resolved per-resource settings.
func (s *CrudService) Options() Options {
	return s.opts
}

// GetMany returns the rows matching the request. The result is a plain slice
// unless pagination is active, in which case it is a *GetManyResponse
// envelope.
func (s *CrudService) GetMany(ctx context.Context, req *crud.ParsedRequest) (any, error) {
	limit := s.opts.clampLimit(req.Limit)
	page := 1
	if req.Page != nil && *req.Page > 1 {
		page = *req.Page
	}
	offset := 0
	if req.Offset != nil {
		offset = *req.Offset
	} else if page > 1 && limit > 0 {
		offset = (page - 1) * limit
	}
	paginate := req.Page != nil || req.Limit != nil || s.opts.AlwaysPaginate

	builder := s.comp.NewSelect().
		WithFields(req.Fields).
		WithSearch(req.Search).
		WithJoins(req.Join).
		WithSort(req.Sort).
		WithIncludeDeleted(req.IncludeDeleted)
	if limit > 0 {
		builder = builder.WithLimit(&limit)
	}
	if offset > 0 {
		builder = builder.WithOffset(&offset)
	}

	sqlText, args, err := builder.Build()
	if err != nil {
		return nil, err
	}

	ttl := s.cacheTTL(req)
	key := CacheKey(s.comp.Resource().Name, sqlText, args)
	if ttl > 0 && !paginate {
		var cached []map[string]any
		if s.cache.Get(ctx, key, &cached) {
			s.recordCache(true)
			return cached, nil
		}
		s.recordCache(false)
	}

	data, err := s.queryRows(ctx, "get_many", sqlText, args)
	if err != nil {
		return nil, err
	}

	if !paginate {
		if ttl > 0 {
			s.cache.Set(ctx, key, data, ttl)
		}
		return data, nil
	}

	countSQL, countArgs, err := builder.BuildCount()
	if err != nil {
		return nil, err
	}
	total, err := s.queryCount(ctx, "get_many", countSQL, countArgs)
	if err != nil {
		return nil, err
	}
	return newGetManyResponse(data, total, limit, page), nil
}

// GetOne returns the single row addressed by the route parameters and any
// extra condition. Returns crud.ErrNotFound when nothing matches.
func (s *CrudService) GetOne(ctx context.Context, req *crud.ParsedRequest) (map[string]any, error) {
	one := 1
	sqlText, args, err := s.comp.NewSelect().
		WithFields(req.Fields).
		WithSearch(req.Search).
		WithJoins(req.Join).
		WithIncludeDeleted(req.IncludeDeleted).
		WithLimit(&one).
		Build()
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, "get_one", sqlText, args)
}

// CreateOne inserts one row. Auth-persist values override client fields.
func (s *CrudService) CreateOne(ctx context.Context, req *crud.ParsedRequest, payload map[string]any) (map[string]any, error) {
	sqlText, args, err := s.comp.BuildInsert(mergePersist(payload, req.AuthPersist))
	if err != nil {
		return nil, err
	}
	row, err := s.queryOne(ctx, "create_one", sqlText, args)
	if err != nil {
		return nil, err
	}
	return s.shallowRow(row), nil
}

// CreateMany inserts a batch of rows in one statement.
func (s *CrudService) CreateMany(ctx context.Context, req *crud.ParsedRequest, payloads []map[string]any) ([]map[string]any, error) {
	if len(payloads) == 0 {
		return nil, crud.ErrEmptyPayload
	}
	merged := make([]map[string]any, len(payloads))
	for i, p := range payloads {
		merged[i] = mergePersist(p, req.AuthPersist)
	}
	sqlText, args, err := s.comp.BuildInsertMany(merged)
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRows(ctx, "create_many", sqlText, args)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		rows[i] = s.shallowRow(row)
	}
	return rows, nil
}

// UpdateOne patches the addressed row. Route-parameter fields are forced back
// into the payload so the row identity cannot be changed.
func (s *CrudService) UpdateOne(ctx context.Context, req *crud.ParsedRequest, payload map[string]any) (map[string]any, error) {
	merged := mergePersist(payload, req.AuthPersist)
	for _, f := range req.ParamsFilter {
		merged[f.Field] = f.Value
	}
	sqlText, args, err := s.comp.BuildUpdate(merged, req.Search, req.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	row, err := s.queryOne(ctx, "update_one", sqlText, args)
	if err != nil {
		return nil, err
	}
	return s.shallowRow(row), nil
}

// ReplaceOne upserts the addressed row.
func (s *CrudService) ReplaceOne(ctx context.Context, req *crud.ParsedRequest, payload map[string]any) (map[string]any, error) {
	merged := mergePersist(payload, req.AuthPersist)
	for _, f := range req.ParamsFilter {
		merged[f.Field] = f.Value
	}
	sqlText, args, err := s.comp.BuildReplace(merged)
	if err != nil {
		return nil, err
	}
	row, err := s.queryOne(ctx, "replace_one", sqlText, args)
	if err != nil {
		return nil, err
	}
	return s.shallowRow(row), nil
}

// DeleteOne removes the addressed row: a soft delete when the resource is
// configured for it and the table carries the delete column, a hard DELETE
// otherwise.
func (s *CrudService) DeleteOne(ctx context.Context, req *crud.ParsedRequest) (map[string]any, error) {
	soft := s.opts.SoftDelete && s.comp.Resource().Table.HasDeleteColumn()
	sqlText, args, err := s.comp.BuildDelete(req.Search, soft)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, "delete_one", sqlText, args)
}

// RecoverOne reverses a soft delete on the addressed row.
func (s *CrudService) RecoverOne(ctx context.Context, req *crud.ParsedRequest) (map[string]any, error) {
	sqlText, args, err := s.comp.BuildRecover(req.Search)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, "recover_one", sqlText, args)
}

// shallowRow reduces a written row to its primary-key columns when the
// resource is configured for shallow write responses.
func (s *CrudService) shallowRow(row map[string]any) map[string]any {
	if !s.opts.ReturnShallow {
		return row
	}
	out := make(map[string]any, len(s.comp.Resource().Table.PrimaryColumns))
	for _, pk := range s.comp.Resource().Table.PrimaryColumns {
		if v, ok := row[pk]; ok {
			out[pk] = v
		}
	}
	return out
}

// cacheTTL resolves the effective cache TTL: the cache parameter in seconds
// when present (0 bypasses), the resource default otherwise. Without a cache
// backend the TTL is always zero.
func (s *CrudService) cacheTTL(req *crud.ParsedRequest) time.Duration {
	if s.cache == nil {
		return 0
	}
	if req.Cache != nil {
		return time.Duration(*req.Cache) * time.Second
	}
	return s.opts.CacheTTL
}

func (s *CrudService) queryRows(ctx context.Context, op, sqlText string, args []any) ([]map[string]any, error) {
	log.Debug().
		Str("resource", s.comp.Resource().Name).
		Str("operation", op).
		Str("sql", logutil.SanitizeSQL(sqlText)).
		Int("args", len(args)).
		Msg("Executing query")

	start := time.Now()
	rows, err := s.db.Query(ctx, sqlText, args...)
	var data []map[string]any
	if err == nil {
		data, err = pgx.CollectRows(rows, pgx.RowToMap)
	}
	s.recordQuery(op, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.comp.Resource().Name, err)
	}
	return data, nil
}

func (s *CrudService) queryOne(ctx context.Context, op, sqlText string, args []any) (map[string]any, error) {
	data, err := s.queryRows(ctx, op, sqlText, args)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, crud.ErrNotFound
	}
	return data[0], nil
}

func (s *CrudService) queryCount(ctx context.Context, op, sqlText string, args []any) (int, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx, sqlText, args...)
	var total int64
	if err == nil {
		total, err = pgx.CollectOneRow(rows, pgx.RowTo[int64])
	}
	s.recordQuery(op, time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.comp.Resource().Name, err)
	}
	return int(total), nil
}

func (s *CrudService) recordQuery(op string, duration time.Duration, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(op, s.comp.Resource().Name, duration, err)
	}
}

func (s *CrudService) recordCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RecordCacheHit(s.comp.Resource().Name)
	} else {
		s.metrics.RecordCacheMiss(s.comp.Resource().Name)
	}
}

// mergePersist copies the payload and overlays the auth-persist values.
func mergePersist(payload, persist map[string]any) map[string]any {
	merged := make(map[string]any, len(payload)+len(persist))
	for k, v := range payload {
		merged[k] = v
	}
	for k, v := range persist {
		merged[k] = v
	}
	return merged
}
