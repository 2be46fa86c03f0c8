package api

import (
	"net/url"

	"github.com/gofiber/fiber/v3"

	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/crud"
)

// crudRequestKey stores the assembled request in Locals so repeated
// assembly within one request is free.
const crudRequestKey = "crudkit_request"

// assembleRequest parses the query string and route parameters into a
// ParsedRequest and composes the effective condition: the parameter filters,
// the declared base condition and the client search ANDed together, wrapped
// by the auth hooks. The result is memoized on the request context.
func assembleRequest(c fiber.Ctx, parser *crud.Parser, descriptors map[string]crud.ParamDescriptor, base *crud.SearchCondition, allowOverride bool, auth *AuthOptions) (*crud.ParsedRequest, error) {
	if cached, ok := c.Locals(crudRequestKey).(*crud.ParsedRequest); ok {
		return cached, nil
	}

	req, err := parser.ParseQuery(queryValues(c))
	if err != nil {
		return nil, err
	}

	routeParams := make(map[string]string, len(descriptors))
	for name := range descriptors {
		if v := c.Params(name); v != "" {
			routeParams[name] = v
		}
	}
	req.ParamsFilter, err = crud.ParseParams(routeParams, descriptors)
	if err != nil {
		return nil, err
	}

	client := req.Search
	if client.IsEmpty() {
		client = crud.BuildClientSearch(req.Filter, req.Or)
	}
	req.Search = auth.merge(c, crud.ComposeSearch(req.ParamsFilter, base, client, allowOverride))
	if auth != nil && auth.Persist != nil {
		req.AuthPersist = auth.Persist(c)
	}

	c.Locals(crudRequestKey, req)
	return req, nil
}

// queryValues rebuilds url.Values from the raw query string, preserving
// repeated keys.
func queryValues(c fiber.Ctx) url.Values {
	values := url.Values{}
	c.RequestCtx().QueryArgs().VisitAll(func(key, value []byte) {
		values.Add(string(key), string(value))
	})
	return values
}

// paramDescriptors lowers the route's parameter declarations into the
// parser's descriptor form. Undeclared resources get the conventional
// numeric id parameter.
func paramDescriptors(rc config.ResourceConfig) map[string]crud.ParamDescriptor {
	if len(rc.Params) == 0 {
		return map[string]crud.ParamDescriptor{
			"id": {Field: "id", Type: crud.ParamNumber, Primary: true},
		}
	}
	descriptors := make(map[string]crud.ParamDescriptor, len(rc.Params))
	for name, p := range rc.Params {
		t := crud.ParamType(p.Type)
		if p.Type == "" {
			t = crud.ParamString
		}
		descriptors[name] = crud.ParamDescriptor{
			Field:    p.Field,
			Type:     t,
			Disabled: p.Disabled,
			Primary:  p.Primary,
		}
	}
	return descriptors
}
