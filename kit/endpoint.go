// Package kit holds transport-neutral glue shared by snapline services:
// the Endpoint abstraction, middleware chaining, request-scoped context
// keys, and the MCP tool adapter.
package kit

import "context"

// Endpoint is a transport-neutral request handler. HTTP handlers and MCP
// tools both decode into a typed request and dispatch through an Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first argument is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
