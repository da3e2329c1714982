package cache

import (
	"sync"
	"time"
)

const maxToolNameSize = 512

type nameEntry struct {
	original  string
	insertSeq uint64
	ts        time.Time
}

// ToolNameCache maps a sanitized ("safe") tool name back to the original
// OpenAI tool name, scoped by (sessionId, model, safeName). Bridges the gap
// between the regex-sanitized names upstream requires and the names OpenAI
// clients actually sent (spec §4.2/§4.5).
type ToolNameCache struct {
	mu          sync.Mutex
	entries     map[string]*nameEntry
	seq         uint64
	lastCleanup time.Time
	now         func() time.Time
}

// NewToolNameCache constructs an empty cache.
func NewToolNameCache() *ToolNameCache {
	return &ToolNameCache{
		entries: make(map[string]*nameEntry),
		now:     time.Now,
	}
}

func makeToolNameKey(sessionID, model, safeName string) string {
	return sessionID + "::" + model + "::" + safeName
}

// Set records safe -> original. No-ops when safe == original or either is
// empty, matching the python original's exact contract.
func (c *ToolNameCache) Set(sessionID, model, safe, original string) {
	if safe == "" || original == "" || safe == original {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepLocked(now)
	c.seq++
	c.entries[makeToolNameKey(sessionID, model, safe)] = &nameEntry{original: original, insertSeq: c.seq, ts: now}
	for len(c.entries) > maxToolNameSize {
		evictOldestName(c.entries)
	}
}

// Get returns the original name for a safe name, or "" if absent/expired.
func (c *ToolNameCache) Get(sessionID, model, safe string) string {
	if safe == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepLocked(now)
	key := makeToolNameKey(sessionID, model, safe)
	entry, ok := c.entries[key]
	if !ok {
		return ""
	}
	if now.Sub(entry.ts) > entryTTL {
		delete(c.entries, key)
		return ""
	}
	return entry.original
}

func (c *ToolNameCache) sweepLocked(now time.Time) {
	if now.Sub(c.lastCleanup) < cleanupInterval {
		return
	}
	for k, v := range c.entries {
		if now.Sub(v.ts) > entryTTL {
			delete(c.entries, k)
		}
	}
	c.lastCleanup = now
}

func evictOldestName(m map[string]*nameEntry) {
	var oldestKey string
	var oldestSeq uint64
	first := true
	for k, v := range m {
		if first || v.insertSeq < oldestSeq {
			oldestKey = k
			oldestSeq = v.insertSeq
			first = false
		}
	}
	if oldestKey != "" {
		delete(m, oldestKey)
	}
}
