// Package reporter delivers one structured event per terminal dispatch
// outcome to an external sink.
//
// The HTTP implementation POSTs JSON to reporter.url; the NATS implementation
// publishes the same JSON on reporter.nats_subject. Both may be active at once
// through Multi, and Noop is used when neither is configured. Delivery
// failures are returned as report errors for the caller to log; they never
// affect the pipeline.
package reporter
