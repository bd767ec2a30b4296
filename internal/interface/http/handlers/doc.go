// Package handlers contains reusable pieces of the ledger HTTP API.
//
// # Health Checks
//
// The HealthChecker interface runs named checks in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewDatabaseCheck(conn))
//	checker.AddCheck("redis", handlers.NewCacheCheck(cache))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
// ActorMiddleware requires the X-Actor-ID header on mutating requests and
// stores it for handlers; RequestLogger logs every request with its latency
// and request id.
package handlers
