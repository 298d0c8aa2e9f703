// Package cache decides which portion of a session's turn history is
// eligible for the LLM provider's server-side context cache, and tracks
// the provider-side cache objects in a small on-disk registry.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mizuki-ai/kaiwa/internal/turn"
)

// UpdateThreshold is the buffered-token count at which the whole history
// is promoted into a fresh provider-side cache.
const UpdateThreshold = 20000

// TokenCountSummary is the process-local record of the provider's last
// usage metadata. It is carried in memory across one request/response
// cycle and never persisted.
type TokenCountSummary struct {
	CachedTokens        int
	CurrentPromptTokens int
	BufferedTokens      int
}

// NewTokenCountSummary derives a summary from the token counts the
// provider reported for the last request.
func NewTokenCountSummary(cachedContentTokens, promptTokens int) TokenCountSummary {
	buffered := promptTokens
	if cachedContentTokens > 0 {
		buffered = promptTokens - cachedContentTokens
	}
	return TokenCountSummary{
		CachedTokens:        cachedContentTokens,
		CurrentPromptTokens: promptTokens,
		BufferedTokens:      buffered,
	}
}

// Split partitions a turn history into a cached prefix and a buffered
// suffix. A nil Cached means nothing is cached; a nil Buffered means the
// entire history belongs in the cache. ShouldUpdate tells the caller to
// issue a cache-create/replace call to the provider.
type Split struct {
	Cached       []turn.Turn
	Buffered     []turn.Turn
	ShouldUpdate bool
}

// SplitHistory maps the provider's token-usage feedback to a cache/buffer
// boundary over the prompt history of turns. It is deterministic and
// side-effect-free; the caller persists len(Cached) as the session's
// cached turn count and creates or expands the provider-side cache
// out-of-band.
//
// When a cache exists and the buffered portion is still small, the
// boundary is estimated as floor(len(history) * cachedTokens /
// promptTokens). The estimate assumes token density is uniform across
// turns, which is not guaranteed; a single oversized tool output can
// shift the true boundary. The behavior is kept as a known approximation.
func SplitHistory(turns *turn.Collection, cachedContentTokens, promptTokens int) Split {
	all := turns.PromptHistory(turn.DefaultToolResponseLimit)

	summary := NewTokenCountSummary(cachedContentTokens, promptTokens)
	if summary.BufferedTokens >= UpdateThreshold {
		// Promote the whole history; there is no buffered remainder.
		return Split{Cached: all, ShouldUpdate: true}
	}

	if cachedContentTokens > 0 {
		ratio := 0.0
		if promptTokens > 0 {
			ratio = float64(cachedContentTokens) / float64(promptTokens)
		}
		boundary := int(float64(len(all)) * ratio)
		if boundary > len(all) {
			boundary = len(all)
		}
		if boundary > 0 {
			return Split{Cached: all[:boundary], Buffered: all[boundary:]}
		}
		// boundary == 0 silently discards the cache-exists signal and
		// falls through to the no-cache shape.
	}

	return Split{Buffered: all}
}

// ContentHash returns the registry key for a cached prefix: the sha256 of
// its serialized turns.
func ContentHash(turns []turn.Turn) (string, error) {
	data, err := json.Marshal(turns)
	if err != nil {
		return "", fmt.Errorf("failed to serialize cached prefix: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
