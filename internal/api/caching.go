package api

import (
	"net/http"

	"github.com/gregjones/httpcache"
)

// cachingRoundTripper returns an in-memory caching transport. Responses with
// Cache-Control headers are served from the cache without hitting the
// network, which sits beneath the query cache's own revalidation logic.
func cachingRoundTripper() http.RoundTripper {
	return httpcache.NewTransport(httpcache.NewMemoryCache())
}
