// Package middleware provides HTTP rate limiting for the chronicle API.
//
// Clients are keyed by address. A MemoryLimiter keeps per-process token
// buckets; a RedisLimiter shares a fixed window across replicas:
//
//	limiter := middleware.NewRedisLimiter(client, middleware.DefaultRateLimitConfig(), "chronicle:ratelimit")
//	router.Use(middleware.RateLimit(limiter, logger))
package middleware
