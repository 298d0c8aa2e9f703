package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is a scripted Client for tests. Responses are returned in order;
// every call is recorded. Safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	responses []*Response
	calls     [][]Content
	caches    []CacheHandle

	// CacheTTL is the lifetime stamped onto handles from CreateCache.
	CacheTTL time.Duration
}

// NewFake builds a Fake that replays the given responses in order.
func NewFake(responses ...*Response) *Fake {
	return &Fake{responses: responses, CacheTTL: time.Hour}
}

// Generate returns the next scripted response, or an error once the
// script is exhausted.
func (f *Fake) Generate(ctx context.Context, contents []Content) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, contents)
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("no scripted response for call %d", len(f.calls))
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

// CreateCache fabricates a handle named after the call ordinal.
func (f *Fake) CreateCache(ctx context.Context, contents []Content) (*CacheHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	handle := CacheHandle{
		Name:       fmt.Sprintf("cachedContents/fake-%d", len(f.caches)+1),
		ExpireTime: time.Now().Add(f.CacheTTL),
	}
	f.caches = append(f.caches, handle)
	return &handle, nil
}

// Calls returns the contents of every Generate call so far.
func (f *Fake) Calls() [][]Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Content, len(f.calls))
	copy(out, f.calls)
	return out
}

// Caches returns every handle CreateCache has issued.
func (f *Fake) Caches() []CacheHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CacheHandle, len(f.caches))
	copy(out, f.caches)
	return out
}
