package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/careline/chat-service/internal/types"
)

var (
	// ErrNotFound indicates the conversation id does not resolve to an
	// appointment.
	ErrNotFound = errors.New("conversation not found")
	// ErrUnavailable indicates the directory could not be reached. Callers
	// treat this as a denial (fail closed).
	ErrUnavailable = errors.New("directory unavailable")
)

// Directory resolves a conversation id to its authorized participant set.
// Invalidate drops any cached set so the next lookup hits the directory;
// joins re-validate membership this way while sends may be served from a
// short-lived cache.
type Directory interface {
	Participants(ctx context.Context, conversationId string) ([]types.Participant, error)
	Invalidate(conversationId string)
}

const (
	requestTimeout = 5 * time.Second
	cacheTTL       = 60 * time.Second
)

type cacheEntry struct {
	participants []types.Participant
	fetchedAt    time.Time
}

// HTTPDirectory queries the appointment service for conversation
// participants, caching results for a short TTL to bound repeated lookups
// during sends.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration

	cacheLock sync.Mutex
	cache     map[string]cacheEntry
}

func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		ttl:     cacheTTL,
		cache:   make(map[string]cacheEntry),
	}
}

func (d *HTTPDirectory) Participants(ctx context.Context, conversationId string) ([]types.Participant, error) {
	if participants, ok := d.cached(conversationId); ok {
		return participants, nil
	}

	url := fmt.Sprintf("%s/api/appointments/%s/participants", d.baseURL, conversationId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %v", ErrUnavailable, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var participants []types.Participant
	if err := json.NewDecoder(resp.Body).Decode(&participants); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	d.store(conversationId, participants)
	return participants, nil
}

func (d *HTTPDirectory) cached(conversationId string) ([]types.Participant, bool) {
	d.cacheLock.Lock()
	defer d.cacheLock.Unlock()

	entry, ok := d.cache[conversationId]
	if !ok || time.Since(entry.fetchedAt) > d.ttl {
		return nil, false
	}
	return entry.participants, true
}

func (d *HTTPDirectory) store(conversationId string, participants []types.Participant) {
	d.cacheLock.Lock()
	defer d.cacheLock.Unlock()

	d.cache[conversationId] = cacheEntry{
		participants: participants,
		fetchedAt:    time.Now(),
	}
}

// Invalidate drops a cached participant set. Used on join so membership is
// re-validated against the directory rather than the cache.
func (d *HTTPDirectory) Invalidate(conversationId string) {
	d.cacheLock.Lock()
	defer d.cacheLock.Unlock()
	delete(d.cache, conversationId)
}
