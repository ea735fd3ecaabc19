// Package catalog persists recording metadata in SQLite.
//
// The catalog is one aggregate JSON document (an array of Recording values)
// stored under a well-known key in a small key/value table. Every mutation is a
// single read-modify-write inside an immediate transaction, serialized by an
// in-process writer lock and retried on SQLITE_BUSY, so concurrent view and
// completion updates never lose increments. Merges are commutative: views
// only increase and completion keeps the maximum observed value.
//
// Entries are unique by ID; Upsert replaces any existing entry and moves it to
// the end of the document. Mutations against unknown IDs are no-ops.
package catalog
