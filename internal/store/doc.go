// Package store provides persistent storage for shopchat using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with small interfaces
// composed into Store:
//
//   - ConversationStore: conversations, lookups by (product, customer), listings
//   - MessageStore: the per-conversation message log and read tracking
//   - UserStore: the display-name directory
//
// SQLiteStore implements all of them in a single struct. MockStore is an
// in-memory implementation with the same uniqueness rules for unit tests.
//
// # Drivers
//
// Open accepts either driver name:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, cgo
//
// Pragmas (foreign keys, WAL, busy timeout) are passed in the DSN.
//
// # Uniqueness
//
// Two partial unique indexes back the conversation invariants:
//
//   - at most one PENDING or OPEN conversation per (product_id, customer_id)
//   - at most one conversation with a NULL product_id per customer
//
// Writes that would break either rule fail with ErrDuplicateConversation.
//
// # Ordering
//
// Timestamps are stored as fixed-width UTC text so they sort lexically.
// Messages are read back ordered by created_at with rowid as the tiebreaker,
// which keeps insertion order stable for equal timestamps.
//
// # Errors
//
//   - ErrNotFound: the requested entity does not exist
//   - ErrDuplicateConversation: a uniqueness rule rejected the write
package store
