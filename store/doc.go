// Package store defines the backing key-value store contract for the
// query cache and provides memory and Redis implementations.
//
// The store is treated as an external collaborator: it owns entry
// durability and TTL expiry, and performs no retry or circuit breaking
// of its own.
package store
