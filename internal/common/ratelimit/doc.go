// Package ratelimit spaces outbound calls to the professional-network API.
//
// Every provider call, whichever component makes it, first waits on one
// shared Throttle so that two calls are never closer together than the
// configured spacing (1s by default).
//
// # Backends
//
//   - BackendLocal: an in-process golang.org/x/time/rate limiter with burst 1.
//     Correct only while a single instance talks to the provider.
//   - BackendRedis: the spacing slot lives in Redis (SET NX PX), so every
//     instance sharing the Redis server shares the throttle.
//
// # Usage
//
//	throttle, err := ratelimit.New(ratelimit.Config{
//		Spacing: time.Second,
//		Type:    ratelimit.BackendLocal,
//	})
//	if err != nil {
//		return err
//	}
//	if err := throttle.Wait(ctx); err != nil {
//		return err // ctx cancelled
//	}
package ratelimit
