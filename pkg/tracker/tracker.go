// Package tracker records the lifecycle of logical fetches so guarded
// operations can skip work that is already cached, in flight, or has
// failed before.
package tracker

import (
	"strings"
	"sync"

	"github.com/Gobusters/ectologger"
)

// Scope names the store a request targets.
type Scope string

const (
	ScopeEntity Scope = "entity"
	ScopeMutual Scope = "mutual"
)

// Op names the kind of fetch.
type Op string

const (
	OpList   Op = "list"
	OpGet    Op = "get"
	OpSearch Op = "search"
	OpTag    Op = "tag"
)

// Key identifies a logical fetch. It is a comparable struct rather than
// a concatenated string so two calls describing the same fetch always
// collide on the same key.
type Key struct {
	Scope        Scope
	Op           Op
	EntityType   string
	EntityID     string
	ByEntityType string
	ByEntityID   string

	// Qualifier narrows list-like fetches: tag name, chain query, search terms.
	Qualifier string
}

func (k Key) String() string {
	parts := []string{string(k.Scope)}
	for _, p := range []string{k.ByEntityType, k.ByEntityID, k.EntityType, k.EntityID, k.Qualifier} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, string(k.Op))
	return strings.Join(parts, "/")
}

type entry struct {
	loading bool
	lastErr error
}

// Tracker is the process wide request tracker. Entries are cooperative
// guards, not locks: the caller decides what a hit means.
type Tracker struct {
	mu      sync.RWMutex
	entries map[Key]entry
	logger  ectologger.Logger
}

// New creates an empty tracker.
func New(logger ectologger.Logger) *Tracker {
	return &Tracker{
		entries: make(map[Key]entry),
		logger:  logger,
	}
}

// Loading reports whether a fetch for the key is in flight.
func (t *Tracker) Loading(key Key) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[key].loading
}

// LastError returns the error recorded for the key's most recent fetch,
// or nil if it succeeded or never ran.
func (t *Tracker) LastError(key Key) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[key].lastErr
}

// Begin marks the key as in flight. It reports false when a fetch is
// already running, so racing callers collapse into a single request.
func (t *Tracker) Begin(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[key]
	if e.loading {
		return false
	}
	e.loading = true
	t.entries[key] = e
	return true
}

// Succeed clears the in-flight flag and any recorded error.
func (t *Tracker) Succeed(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = entry{}
}

// Fail clears the in-flight flag and records the error. The key is
// treated as failed by guard checks until Succeed or Reset.
func (t *Tracker) Fail(key Key, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = entry{lastErr: err}

	t.logger.WithError(err).WithFields(map[string]any{
		"request_key": key.String(),
	}).Debug("recorded request failure")
}

// Reset forgets everything recorded for the key.
func (t *Tracker) Reset(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}
