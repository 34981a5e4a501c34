// Package sessions defines the session value store shared by the task
// controller and the version reconciliation engine. A session is a
// client-scoped bucket of typed values persisted by a SessionHost so that any
// server process may serve the next request for it.
//
// Layers & Roles
//
//	Transport     -> owns session ids, creates and deletes sessions
//	SessionHost   -> durability & coordination (atomic single-key compute, change counter)
//	Typed helpers -> Get / Set / Delete / Compute / List / WaitCondition over Key[T]
//
// # Typed keys
//
// Values are addressed by Key[T], obtained from a Kind[T]:
//
//	var taskKind = sessions.NewKind[TaskRecord]("task")
//	rec, ok, err := sessions.Get(ctx, host, sessionID, taskKind.Key(taskKey))
//
// The kind name is the runtime tag hosts use to group values, which makes
// cursor-paginated listing of one kind possible without reflection.
//
// # Atomicity
//
// Each mutation touches one key. Compute is a read-modify-write on a single
// key and returns whatever its closure decided:
//
//	removed, found, err := sessions.Compute(ctx, host, sid, key,
//		func(cur Responses, ok bool) (Responses, bool, bool) { ... })
//
// Distributed hosts commit optimistically and may re-run the closure, so it
// must be free of side effects; act on the returned result instead.
//
// # Missing sessions
//
// Operations on an unknown or expired session never fail: they report
// found=false / ok=false. Sessions may be reaped by another process at any
// moment and callers are expected to treat that as ordinary.
//
// Implementations
//
//	memoryhost : in-memory reference used for tests / single-process servers
//	redishost  : Redis backed implementation for horizontal scale and durability
package sessions
