// Package natsbus is the JetStream transport.
//
// Units are published to "<transport.subject>.<file id>" on a stream that
// captures "<transport.subject>.>". Each message carries its metadata in
// Courier-* headers and a Nats-Msg-Id derived from the file id, archive
// digest and part index, so a retried publish inside the stream's duplicate
// window is acknowledged without being stored twice.
//
// The same connection publishes reporter events (core NATS, fire and forget)
// and, when forward.kind is nats, copies of each unit to the forward subject.
package natsbus
