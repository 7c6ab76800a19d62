// Package dispatcher sends transport units to the remote endpoint.
//
// Every send and every forward first waits on one shared token bucket. Waiters
// are served in arrival order, so a unit that asked first is sent first and
// retries cannot starve fresh work. Transient failures are retried with
// exponential backoff; a Retry-After hint from the transport raises the next
// delay. Each call to Dispatch or Abort emits exactly one reporter event.
//
// A send that has started is not interrupted by shutdown: it runs on a
// context detached from cancellation and bounded by transport.send_timeout.
// Limiter and backoff waits do observe cancellation and end in a failure
// result.
package dispatcher
