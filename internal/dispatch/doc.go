// Package dispatch runs job requests on a worker host.
//
// A Dispatcher polls a Source for requests matching its labels, hands each
// one to a Worker and reports the outcome through a Completer. Requests are
// processed one at a time in acquisition order.
//
// Workers:
//   - ExecWorker spawns an executor process per request. The request is
//     written to its stdin as JSON and the completion is read from the last
//     JSON line of its stdout.
//   - LocalWorker completes requests immediately with a configured result.
//     It backs `runway run`.
//
// Timeout handling (ExecWorker):
//   - The request's timeout-minutes bounds the executor.
//   - When it expires the process gets SIGTERM, then SIGKILL once the
//     cancel-timeout grace period passes.
//   - A timed out request completes as Canceled.
//
// Failures to start or talk to the executor complete the request as Failed,
// so the run never waits on a request the host gave up on.
package dispatch
