// Package conversation is the real-time chat core.
//
// # Overview
//
// The package sits between the transports (REST handlers, websocket
// connections) and the store. It owns the conversation lifecycle, the
// message log rules and live fan-out.
//
// # Service
//
// The Service is the public operation surface:
//
//	svc := conversation.New(store, conversation.Options{Notifier: n})
//	hub := conversation.NewHub(svc, logger)
//	svc.SetBroadcaster(hub)
//
// Key operations:
//
//   - StartChat(ctx, productID, customerID, subject): idempotent per (product, customer)
//   - GetOrCreateGeneralChat(ctx, customerID): the customer's single general thread
//   - SendMessage(ctx, req): validate sender, persist, notify, broadcast
//   - Assign / Close / Reopen / Delete
//   - MarkRead / MarkAllRead / UnreadCount / LatestMessage / ListMessages
//
// # Lifecycle
//
//	PENDING --assign / first reply by a third party--> OPEN
//	OPEN    --close--> CLOSED
//	CLOSED  --reopen--> OPEN
//
// Product conversations start PENDING; general conversations start OPEN.
// Assigning a closed conversation does nothing. Only Close sets CLOSED and
// only Reopen clears it.
//
// # Sending
//
// When a message arrives:
//
//  1. Load the conversation (NotFound if absent)
//  2. Resolve the sender as customer or admin
//  3. If neither and no admin is assigned, the sender claims the conversation
//  4. Otherwise a third party is rejected with Forbidden
//  5. Persist the message with its role and display-name snapshot
//  6. Notify the other party in the background
//  7. Broadcast to live viewers, skipping the originating connection
//
// Steps 6 and 7 never fail the send.
//
// # Live Hub
//
// The Hub maps conversation ids to live connections. A connection is
// registered lazily by its first inbound frame and removed on disconnect;
// empty rooms are dropped. Broadcast snapshots the room under a read lock and
// sends outside it, so a slow or closing connection can't stall the others.
//
// # Errors
//
// Every failure is an *Error whose Kind is one of ErrNotFound, ErrForbidden,
// ErrInvalidArgument, ErrConflict or ErrUnavailable.
package conversation
