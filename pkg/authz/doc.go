// Package authz implements the execution authorization engine: the
// component that renders an allow/deny verdict for every process execution
// attempted on the host.
//
// The engine is built from four parts:
//
//   - Evaluator walks rule types in a fixed precedence order
//     (CDHash > Binary > SigningID > CEL > Certificate > TeamID) and maps
//     the first matching rule to a verdict.
//   - Cache is a sharded per-vnode verdict cache with single-flight
//     coordination: concurrent requests for the same binary share one
//     evaluation, and generation counters let rule mutations invalidate
//     entries without cancelling in-flight work.
//   - Tracker follows binaries produced by processes running under a
//     compiler allow rule and promotes them to transitive allow rules when
//     the compiler exits cleanly.
//   - Controller is the per-request entry point: fail-safe override for
//     critical system binaries, cache fast path, leader/waiter
//     coordination, and the per-mode timeout fallback. No failure inside
//     the authorization path ever escapes as anything but a verdict.
//
// The kernel event source that delivers execution requests and enforces
// verdicts is an external collaborator; it calls Controller.Authorize once
// per execution event.
package authz
