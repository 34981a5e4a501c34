// Package tasks tracks long-running operations that belong to a session.
//
// A task is addressed by an opaque id that embeds its session id (see Combine
// and Split), so any process sharing the session store can serve it. Each
// task owns three independent session values:
//
//   - the task record (creation time, TTL, terminal result)
//   - a FIFO of server-to-client messages awaiting delivery
//   - a table of response slots for server-to-client requests
//
// Keeping them apart lets the executor, the message producers and the
// response handler each update their own key with a single atomic compute.
//
// Status is derived on every read: a result maps to its outcome, otherwise a
// non-empty response table means input_required, otherwise working. Terminal
// states are absorbing.
//
// Example:
//
//	ctrl := tasks.NewController(host)
//	id, err := ctrl.CreateTask(ctx, sessionID, nil)
//	reqID := uuid.New()
//	ok, err := ctrl.QueueMessage(ctx, id, &reqID, "elicitation/create", params)
//	// ... transport drains with TakeMessages and later calls SetResponse ...
//	ctrl.TakeResponse(ctx, id, reqID, func(r mcp.ClientResponse) { ... })
//	err = ctrl.EndTask(ctx, id, tasks.OutcomeCompleted, payload, "")
//	res, ok, err := ctrl.Finalize(ctx, id)
//
// Reaper removes completed tasks once their TTL elapses and tasks abandoned
// without a result.
package tasks
