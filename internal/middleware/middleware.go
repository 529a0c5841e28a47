// Package middleware holds the net/http middleware plumbing shared by the
// request logger and the demo server.
package middleware

import "net/http"

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain composes middleware so that Chain(a, b, c)(h) == a(b(c(h))).
// The first middleware is the outermost wrapper and sees the request first.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
