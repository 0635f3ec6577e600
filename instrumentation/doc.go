// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the
// grantauth library.
//
// This package enables observability across the library layers through:
// - Metrics: Counters, histograms, and gauges for monitoring grant operations
// - Traces: Distributed tracing for flow and storage operations
//
// # Quick Start
//
//	import "github.com/grantauth/grantauth/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-auth-service",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	// Pass to the server and storage backends
//	srv.SetInstrumentation(inst)
//
// # Available Metrics
//
// Flows:
//   - oauth.code.issued{client_id} - Authorization codes issued
//   - oauth.code.exchanged{client_id} - Authorization codes exchanged
//   - oauth.token.issued{client_id, grant_type} - Access tokens issued
//   - oauth.token.refreshed{client_id} - Tokens refreshed
//   - oauth.client.registered{client_type} - Clients registered
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type} - Rate limit violations
//   - oauth.code.reuse_detected - Authorization code reuse attempts
//
// Storage:
//   - storage.operation.total{operation, result} - Storage operations
//   - storage.operation.duration{operation} - Operation duration in milliseconds
//   - storage.size.grants / storage.size.tokens / storage.size.clients - Current sizes
//
// # Performance
//
// When instrumentation is not configured or disabled, no-op providers are used
// and there is no measurable overhead.
//
// # Security Considerations
//
// Never record actual token values, authorization codes, or client secrets in
// traces or metrics. Only record metadata such as client IDs, scopes, token
// types, and expiry times.
package instrumentation
