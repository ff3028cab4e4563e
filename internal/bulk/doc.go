// Package bulk implements the bulk-operation execution engine.
//
// A caller submits one action (status change, comment, reassignment, field
// update, deletion) to apply across a set of independent work items. The
// engine tracks per-item and aggregate progress, supports cooperative
// mid-flight cancellation, and streams progress to any number of live
// subscribers.
//
// The engine is agnostic to what an action does: each action kind maps to a
// caller-supplied MutationFunc through the Registry. One item's failure never
// aborts its siblings; partial success is a first-class outcome, reported as
// a completed operation with a non-zero failed counter.
//
// Components:
//
//   - Store: authoritative state of operations and their items
//   - Registry: action kind -> MutationFunc table
//   - Runner: executes one item with retry/backoff and panic isolation
//   - Scheduler: bounded-parallel dispatch loop per operation
//   - Broadcaster: snapshot + delta fan-out to subscribers
//   - Manager: public entry point (create, get, cancel, list, subscribe)
package bulk
