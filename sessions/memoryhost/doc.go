// Package memoryhost keeps session values in process memory. It is the
// host for tests, local development and single-replica deployments; nothing
// survives a restart and nothing is shared between processes.
//
// Each session owns a mutex guarding its value maps and its change counter,
// so operations on different sessions never contend. ComputeValue holds the
// session lock while the closure runs, which means the closure runs exactly
// once. Waiters in AwaitChange block on a channel that is closed and
// replaced on every mutation and on deletion.
//
//	host := memoryhost.New()
//	_ = host.CreateSession(ctx, sessionID)
//	ctrl := tasks.NewController(host)
//
// Use redishost when several replicas serve the same sessions.
package memoryhost
