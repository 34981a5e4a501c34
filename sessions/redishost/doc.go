// Package redishost implements sessions.SessionHost using Redis primitives to
// support horizontally scalable deployments where any process may serve the
// next request for a session.
//
// Design Notes
//   - Values: one string key per (session, kind, name); a per-kind ZSET index
//     gives lexical cursor pagination (ZRANGEBYLEX)
//   - Sessions: a marker key per session plus a global ZSET for listing
//   - Set/Delete: Lua scripts that refuse writes once the session marker is gone
//   - Compute: optimistic WATCH/MULTI on the session marker and the value key,
//     retried on conflict; the closure may therefore run more than once
//   - Change tracking: INCR counter per session and a PUBLISH on every
//     mutation; AwaitChange subscribes and re-checks the counter, with a
//     polling fallback for missed messages
//   - Keys of one session share a hash tag so WATCH works on Redis Cluster
//
// Trade-offs
//
//	Pros: durability, multi-process coordination, simple operational model
//	Cons: compute contention is resolved by retries, not queueing
//
// Example:
//
//	host, err := redishost.NewFromEnv()
//	if err != nil { ... }
//	defer host.Close()
//
// Use memoryhost for ephemeral development; use redishost where scale-out or
// restart persistence is required.
package redishost
