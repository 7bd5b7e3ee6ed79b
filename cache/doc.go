// Package cache provides an adaptive caching engine for database query
// results backed by a remote key-value store.
//
// It derives deterministic SHA-256 keys from query text and parameters,
// admits results through a cacheability policy, computes TTLs that adapt
// to query frequency and cost, tracks query patterns, and keeps the
// backing store within capacity and staleness limits through pluggable
// eviction strategies and background maintenance workers.
//
// The cache is strictly an optimization: every failure in the cache
// layer is recovered locally and can never cause the query path it
// accelerates to fail.
package cache
