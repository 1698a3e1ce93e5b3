// Package notify delivers push notifications to chat participants who are
// not watching a conversation live.
//
// Backends:
//
//   - LogNotifier writes to the structured log
//   - NATSNotifier publishes JSON to <prefix>.<recipient>, optionally via JetStream
//   - WebhookNotifier POSTs signed JSON with an HTML rendering of the body
//   - MatrixNotifier posts to a support room
//
// Multi fans out to several backends and records per-backend metrics.
// Throttled suppresses repeats for the same recipient and conversation
// within a window.
package notify
