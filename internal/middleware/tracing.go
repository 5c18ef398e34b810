package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Tracing starts a server span per request. The span is named after the matched
// chi pattern, e.g. "GET /api/v1/payments/{orderId}", and falls back to the raw
// path for requests no route matched.
func Tracing(opts ...otelhttp.Option) func(http.Handler) http.Handler {
	opts = append([]otelhttp.Option{otelhttp.WithSpanNameFormatter(spanName)}, opts...)
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http.server", opts...)
	}
}

// spanName is called when the span starts and again once the request has been
// routed.
func spanName(_ string, r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return r.Method + " " + rctx.RoutePattern()
	}
	return r.Method + " " + r.URL.Path
}
