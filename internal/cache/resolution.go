// Package cache holds the resolution cache: one document per time-binned
// request key, moving absent → pending → resolved|failed. The document store
// is the source of truth; a bounded in-process memo fronts reads of terminal
// entries only.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oskarhn/gnss-assist/internal/assist"
	"github.com/oskarhn/gnss-assist/internal/cache/redisstore"
)

// ErrAlreadyExists is returned by CreatePending when another requester
// claimed the key first.
var ErrAlreadyExists = errors.New("cache entry already exists")

// Entry is the persisted cache document.
//
// Lifecycle: Unresolved == nil means pending; false means resolved (payloads
// present); true means the resolver failed for this key. Terminal states
// never transition back; a new time bucket gets a fresh key instead.
type Entry struct {
	Key        string         `json:"id"`
	Request    assist.Request `json:"request"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Unresolved *bool          `json:"unresolved,omitempty"`
	Payloads   [][]byte       `json:"payloads,omitempty"`
	Source     string         `json:"source"`
}

func (e *Entry) Pending() bool  { return e.Unresolved == nil }
func (e *Entry) Resolved() bool { return e.Unresolved != nil && !*e.Unresolved }
func (e *Entry) Failed() bool   { return e.Unresolved != nil && *e.Unresolved }

// Store is the subset of redisstore.Client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Create(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Upsert(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type ResolutionCache struct {
	store  Store
	docTTL time.Duration
	source string
	memo   *lru.Cache[string, *Entry]
	clock  func() time.Time
}

type Options struct {
	// DocTTL bounds how long a document outlives its bucket. Zero keeps
	// documents forever.
	DocTTL time.Duration
	// Source labels who resolved the entries (recorded in the document).
	Source string
	// MemoSize bounds the terminal-entry read memo; <= 0 disables it.
	MemoSize int
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func New(store Store, opts Options) *ResolutionCache {
	c := &ResolutionCache{
		store:  store,
		docTTL: opts.DocTTL,
		source: opts.Source,
		clock:  opts.Clock,
	}
	if c.source == "" {
		c.source = "resolver"
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if opts.MemoSize > 0 {
		c.memo, _ = lru.New[string, *Entry](opts.MemoSize)
	}
	return c
}

// Get returns the entry for key, or (nil, nil) when absent.
func (c *ResolutionCache) Get(ctx context.Context, key string) (*Entry, error) {
	if c.memo != nil {
		if e, ok := c.memo.Get(key); ok {
			return e, nil
		}
	}

	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, redisstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %q: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("cache decode %q: %w", key, err)
	}

	// Only terminal entries are memoized: a stale pending memo could
	// suppress observing the resolved state.
	if c.memo != nil && !e.Pending() {
		c.memo.Add(key, &e)
	}
	return &e, nil
}

// CreatePending claims key for the calling requester. First writer wins;
// everyone else gets ErrAlreadyExists and must only read.
func (c *ResolutionCache) CreatePending(ctx context.Context, key string, req assist.Request) error {
	doc, err := json.Marshal(Entry{
		Key:       key,
		Request:   req,
		UpdatedAt: c.clock().UTC(),
		Source:    c.source,
	})
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	created, err := c.store.Create(ctx, key, doc, c.docTTL)
	if err != nil {
		return fmt.Errorf("cache create %q: %w", key, err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

// MarkResolved writes the terminal resolved state. Callers invoke it once per
// key; the write itself is a plain upsert and safe to repeat.
func (c *ResolutionCache) MarkResolved(ctx context.Context, key string, req assist.Request, payloads [][]byte) error {
	unresolved := false
	e := &Entry{
		Key:        key,
		Request:    req,
		UpdatedAt:  c.clock().UTC(),
		Unresolved: &unresolved,
		Payloads:   payloads,
		Source:     c.source,
	}
	if err := c.upsert(ctx, e); err != nil {
		return err
	}
	if c.memo != nil {
		c.memo.Add(key, e)
	}
	return nil
}

// MarkFailed writes the terminal failed state for key.
func (c *ResolutionCache) MarkFailed(ctx context.Context, key string, req assist.Request) error {
	unresolved := true
	e := &Entry{
		Key:        key,
		Request:    req,
		UpdatedAt:  c.clock().UTC(),
		Unresolved: &unresolved,
		Source:     c.source,
	}
	if err := c.upsert(ctx, e); err != nil {
		return err
	}
	if c.memo != nil {
		c.memo.Add(key, e)
	}
	return nil
}

func (c *ResolutionCache) upsert(ctx context.Context, e *Entry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", e.Key, err)
	}
	if err := c.store.Upsert(ctx, e.Key, doc, c.docTTL); err != nil {
		return fmt.Errorf("cache upsert %q: %w", e.Key, err)
	}
	return nil
}
