// Package engine runs the order lifecycle for workorders (virtual machines)
// and network allocation orders (network segments).
//
// # Lifecycle
//
// Every order moves through the same status machine:
//
//	pending ──approve──▶ approved ──execute──▶ executing ──▶ completed
//	   │                    ▲                      └───────▶ failed
//	   └──reject──▶ rejected│
//	                        └── approve (from any status)
//
// Approve and reject are accepted from any status. Re-approving a completed
// or failed order is how a client retries; execute is only accepted from
// approved, so a stale retry cannot provision twice. The store re-checks the
// expected status inside the transaction that writes the new one, which
// makes concurrent execute calls on one order race to a single winner.
//
// # Execution
//
// Execute commits the executing status and a start marker before calling
// the provisioning adapter, so a process that dies mid-run leaves the order
// visibly executing. The adapter then runs to completion even if the caller
// goes away; its outcome is appended to the log and the order moves to
// completed or failed. Each execution overwrites the previous log.
//
// # Errors
//
// Service methods return *EngineError values classified as not_found,
// invalid_transition, validation, external_tool or internal. HTTPStatus maps
// a class to a response status.
package engine
