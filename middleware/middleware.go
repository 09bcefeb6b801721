// Package middleware defines the dispatch pipeline actions travel through.
//
// A pipeline is an onion of middlewares around a final handler:
//
//	Chain(A, B, C)(final) → A(B(C(final)))
//	A.before → B.before → C.before → final → C.after → B.after → A.after
//
// Server-bound requests return a *pending.Future from the innermost socket middleware; every
// other action returns a nil future.
package middleware

import (
	"context"

	"mini-socket/action"
	"mini-socket/pending"
)

type HandlerFunc func(ctx context.Context, act action.Action) (*pending.Future, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
