// Package gateway wires the shopchat core to its network surfaces.
//
// # Overview
//
// The Gateway owns the store, the chat orchestrator, the live broadcast hub,
// the notification fan-out and the attachment host, and exposes them over:
//
//   - an HTTP server (REST API, websocket endpoint, attachment files, metrics)
//   - an optional gRPC server carrying the standard health service
//   - optionally, a Tailscale tsnet node instead of plain TCP listeners
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config     *config.Config
//	    store      store.Store
//	    chat       *conversation.Service
//	    hub        *conversation.Hub
//	    notifier   conversation.Notifier
//	    uploader   *attachment.Uploader
//	    live       *liveRegistry
//	    grpcServer *grpc.Server
//	    httpServer *http.Server
//	    // ...
//	}
//
// # HTTP API
//
// All /api/v1 routes require an authenticated caller (bearer JWT, or the
// X-User-ID / X-User-Role headers when dev headers are enabled):
//
//   - POST /api/v1/conversations - Start (or resume) a product chat
//   - GET /api/v1/conversations - List conversations with latest message and unread count
//   - POST /api/v1/conversations/general - Get or create the general support chat
//   - GET /api/v1/conversations/unassigned - Unclaimed queue (admin)
//   - GET /api/v1/conversations/{id} - Conversation summary
//   - DELETE /api/v1/conversations/{id} - Delete with its messages (admin)
//   - POST /api/v1/conversations/{id}/assign - Assign an admin (admin)
//   - POST /api/v1/conversations/{id}/close - Close
//   - POST /api/v1/conversations/{id}/reopen - Reopen
//   - GET /api/v1/conversations/{id}/messages - Message log, oldest first
//   - POST /api/v1/conversations/{id}/messages - Send a message
//   - POST /api/v1/conversations/{id}/attachments - Upload a file and send it
//   - POST /api/v1/conversations/{id}/read - Mark everything read for the caller
//   - GET /api/v1/conversations/{id}/unread - Unread count and messages
//   - GET /api/v1/conversations/{id}/latest - Latest message or null
//   - GET /api/v1/conversations/{id}/live - Live connection count
//   - POST /api/v1/messages/{id}/read - Mark one message read
//   - GET /api/v1/admin/conversations?page=&size= - Caller's assignments, paginated
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// Errors are JSON objects with an "error" key. Not found maps to 404,
// forbidden to 403, invalid input to 400, conflicts to 409 and storage
// failures to 503.
//
// # Live Transport
//
// GET /ws upgrades to a websocket. Clients send frames
//
//	{"conversationId": "...", "body": "...", "type": "TEXT"}
//
// A frame without a body or attachment only subscribes the connection. Every
// message persisted in a conversation is pushed to its subscribers as the
// same JSON as the REST message shape, except to the connection it came from.
// Rejected frames produce {"error": "...", "code": "FORBIDDEN", ...} on the
// originating connection only.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown stops the HTTP server, sends a going-away frame to websocket
// clients, stops gRPC, drains pending notifications and closes the store.
package gateway
