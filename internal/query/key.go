package query

import "net/url"

// Key identifies a cache entry: the endpoint plus its query parameters in
// canonical order. Two logically identical parameter sets always produce the
// same key regardless of construction order.
type Key string

// NewKey builds the key for an endpoint and parameter set. url.Values.Encode
// sorts by parameter name, which makes the serialization deterministic.
func NewKey(endpoint string, params url.Values) Key {
	if len(params) == 0 {
		return Key(endpoint)
	}
	return Key(endpoint + "?" + params.Encode())
}

// Tag marks a cache entry for group invalidation, e.g. a collection-level
// tag plus one tag per item identifier.
type Tag string
