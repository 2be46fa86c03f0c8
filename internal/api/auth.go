package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/crudkit-io/crudkit/internal/crud"
)

// AuthOptions scopes a resource to the authenticated principal. All hooks
// are optional and receive the request context so they can read whatever the
// auth middleware stored in Locals.
type AuthOptions struct {
	// Filter returns a condition ANDed in front of the composed search.
	Filter func(c fiber.Ctx) *crud.SearchCondition
	// Or returns a condition ORed against the whole composed search. When Or
	// is set, Filter is never consulted.
	Or func(c fiber.Ctx) *crud.SearchCondition
	// Persist returns values forced into every write payload.
	Persist func(c fiber.Ctx) map[string]any
}

// merge wraps the composed condition with the auth hooks. The or-hook takes
// priority: its condition widens the whole composed search instead of
// narrowing it.
func (a *AuthOptions) merge(c fiber.Ctx, rest *crud.SearchCondition) *crud.SearchCondition {
	if a == nil {
		return rest
	}
	if a.Or != nil {
		or := a.Or(c)
		switch {
		case or.IsEmpty():
			return rest
		case rest.IsEmpty():
			return or
		default:
			return crud.SearchOr(or, rest)
		}
	}
	if a.Filter != nil {
		filter := a.Filter(c)
		switch {
		case filter.IsEmpty():
			return rest
		case rest.IsEmpty():
			return filter
		default:
			return crud.SearchAnd(filter, rest)
		}
	}
	return rest
}
