// Package llm declares the provider-facing seam kaiwa's core talks to.
// The core never imports a provider SDK; it consumes this interface and
// the usage metadata it reports, which is what feeds the cache split
// policy. Concrete clients live with the process that owns the API key.
package llm

import (
	"context"
	"time"
)

// Content is one prompt element sent to the provider.
type Content struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// UsageMetadata is the token accounting a provider returns with each
// response. CachedContentTokenCount is zero when no server-side cache
// was attached to the request.
type UsageMetadata struct {
	CachedContentTokenCount int `json:"cached_content_token_count"`
	PromptTokenCount        int `json:"prompt_token_count"`
}

// Response is one model reply plus its usage accounting.
type Response struct {
	Text  string        `json:"text"`
	Usage UsageMetadata `json:"usage_metadata"`
}

// CacheHandle identifies a server-side context cache object.
type CacheHandle struct {
	Name       string    `json:"name"`
	ExpireTime time.Time `json:"expire_time"`
}

// Client generates model responses and manages server-side context
// caches. Implementations must be safe for use from a single process;
// cross-process coordination is the session store's job, not the
// client's.
type Client interface {
	// Generate sends contents and returns the model's reply.
	Generate(ctx context.Context, contents []Content) (*Response, error)

	// CreateCache uploads contents as a new server-side cache object and
	// returns its handle. The caller records the handle in the cache
	// registry keyed by the content hash of the cached prefix.
	CreateCache(ctx context.Context, contents []Content) (*CacheHandle, error)
}
