package cache

import (
	"encoding/json"
	"reflect"
	"strings"
)

// DefaultMaxResultSize is the advisory limit on the serialized size of a
// cacheable result, in bytes.
const DefaultMaxResultSize = 1_000_000

// mutatingKeywords are SQL keywords that mark a query as uncacheable.
// Matching is case-insensitive substring matching anywhere in the query,
// matching the behavior the surrounding system has always had; a column
// named "updated_at" therefore also disqualifies its query.
var mutatingKeywords = []string{
	"insert", "update", "delete", "drop", "create", "alter",
	"truncate", "grant", "revoke", "begin", "commit", "rollback",
}

// IsQueryCacheable reports whether the query text is eligible for
// caching. Queries containing mutating or DDL keywords are rejected.
func IsQueryCacheable(query string) bool {
	lowered := strings.ToLower(query)
	for _, kw := range mutatingKeywords {
		if strings.Contains(lowered, kw) {
			return false
		}
	}
	return true
}

// IsResultCacheable reports whether the result value is worth caching.
// Nil results and empty sequences (string, slice, array, map) are not.
func IsResultCacheable(result any) bool {
	if result == nil {
		return false
	}

	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return false
		}
		return IsResultCacheable(v.Elem().Interface())
	case reflect.Slice, reflect.Map:
		if v.IsNil() {
			return false
		}
		return v.Len() > 0
	case reflect.String, reflect.Array:
		return v.Len() > 0
	default:
		return true
	}
}

// ResultSizeAcceptable reports whether the serialized result fits within
// max bytes. The check is advisory: if the result cannot be serialized
// for measurement it fails open and returns true. max<=0 uses
// DefaultMaxResultSize.
func ResultSizeAcceptable(result any, max int) bool {
	if max <= 0 {
		max = DefaultMaxResultSize
	}

	data, err := json.Marshal(result)
	if err != nil {
		// Sizing is advisory only; the write path decides storability.
		return true
	}
	return len(data) <= max
}

// ShouldCache combines the admission checks: the engine must be enabled
// and the query, result, and result size must all pass.
func ShouldCache(query string, result any, cfg Config) bool {
	if !cfg.Enabled {
		return false
	}
	return IsQueryCacheable(query) &&
		IsResultCacheable(result) &&
		ResultSizeAcceptable(result, cfg.MaxResultSize)
}
