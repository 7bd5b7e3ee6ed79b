package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Keyer generates deterministic cache keys from a query and its parameters.
//
// Contract:
// - Determinism: same query text (modulo leading/trailing whitespace) and
//   same parameter content must produce the same key, regardless of map
//   iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a cache key for the query and parameters.
	Key(query string, params map[string]any) (string, error)
}

// QueryKeyer generates SHA-256 based cache keys.
//
// The key is the configured prefix followed by the first 32 hex
// characters of SHA-256 over a canonical JSON encoding of
// {"params": <params>, "query": <trimmed query>}. Only leading and
// trailing whitespace is normalized; internal whitespace differences
// produce different keys.
type QueryKeyer struct {
	prefix string
}

// NewQueryKeyer creates a keyer that namespaces keys under prefix.
func NewQueryKeyer(prefix string) *QueryKeyer {
	return &QueryKeyer{prefix: prefix}
}

// Key generates a deterministic cache key.
func (k *QueryKeyer) Key(query string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}

	payload := map[string]any{
		"query":  strings.TrimSpace(query),
		"params": params,
	}

	// Canonicalize to ensure deterministic serialization
	canonical, err := canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize key payload: %w", err)
	}

	hash := sha256.Sum256(canonical)
	hashStr := hex.EncodeToString(hash[:16]) // First 16 bytes = 32 hex chars

	return k.prefix + hashStr, nil
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	// For maps, sort keys for determinism
	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		// For other types, use standard JSON encoding
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	// Sort keys
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Build ordered JSON object
	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		// Key
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		// Value (recursively canonicalize)
		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure QueryKeyer implements Keyer
var _ Keyer = (*QueryKeyer)(nil)
