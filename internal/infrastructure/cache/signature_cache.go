// Package cache holds the process-wide, TTL- and LRU-bounded scratchpads
// that plug the semantic gap between stateless OpenAI messages and the
// upstream's stateful thinking/tool protocol. Entries are keyed by
// (sessionId, model) or (sessionId, model, safeName); they are never
// persisted, matching the teacher's ToolResultCache shape generalized to
// two key schemes.
package cache

import (
	"sync"
	"time"
)

const (
	entryTTL          = 30 * time.Minute
	cleanupInterval   = 10 * time.Minute
	maxReasoningSize  = 256
	maxToolSigSize    = 256
)

type sigEntry struct {
	signature string
	insertSeq uint64
	ts        time.Time
}

// SignatureCache holds two independent TTL+LRU maps — one for reasoning
// thought signatures, one for tool-call thought signatures — both keyed by
// "sessionId::model". A single mutex serializes both maps since operations
// are short and non-blocking (spec §4.5/§5).
type SignatureCache struct {
	mu          sync.Mutex
	reasoning   map[string]*sigEntry
	tool        map[string]*sigEntry
	seq         uint64
	lastCleanup time.Time
	now         func() time.Time
}

// NewSignatureCache constructs an empty cache.
func NewSignatureCache() *SignatureCache {
	return &SignatureCache{
		reasoning: make(map[string]*sigEntry),
		tool:      make(map[string]*sigEntry),
		now:       time.Now,
	}
}

func makeSigKey(sessionID, model string) string {
	return sessionID + "::" + model
}

// SetReasoningSignature no-ops on an empty signature.
func (c *SignatureCache) SetReasoningSignature(sessionID, model, signature string) {
	if signature == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepLocked(now)
	c.seq++
	c.reasoning[makeSigKey(sessionID, model)] = &sigEntry{signature: signature, insertSeq: c.seq, ts: now}
	evictOldest(c.reasoning, maxReasoningSize)
}

// GetReasoningSignature returns the cached signature, or "" if absent or
// expired (in which case the entry is removed).
func (c *SignatureCache) GetReasoningSignature(sessionID, model string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(c.reasoning, sessionID, model)
}

// SetToolSignature no-ops on an empty signature.
func (c *SignatureCache) SetToolSignature(sessionID, model, signature string) {
	if signature == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepLocked(now)
	c.seq++
	c.tool[makeSigKey(sessionID, model)] = &sigEntry{signature: signature, insertSeq: c.seq, ts: now}
	evictOldest(c.tool, maxToolSigSize)
}

// GetToolSignature returns the cached tool thought signature, or "" if
// absent or expired.
func (c *SignatureCache) GetToolSignature(sessionID, model string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(c.tool, sessionID, model)
}

func (c *SignatureCache) getLocked(m map[string]*sigEntry, sessionID, model string) string {
	now := c.now()
	c.sweepLocked(now)
	key := makeSigKey(sessionID, model)
	entry, ok := m[key]
	if !ok {
		return ""
	}
	if now.Sub(entry.ts) > entryTTL {
		delete(m, key)
		return ""
	}
	return entry.signature
}

// sweepLocked runs an opportunistic TTL sweep at most once per
// cleanupInterval. Callers must hold c.mu.
func (c *SignatureCache) sweepLocked(now time.Time) {
	if now.Sub(c.lastCleanup) < cleanupInterval {
		return
	}
	sweepExpired(c.reasoning, now)
	sweepExpired(c.tool, now)
	c.lastCleanup = now
}

func sweepExpired(m map[string]*sigEntry, now time.Time) {
	for k, v := range m {
		if now.Sub(v.ts) > entryTTL {
			delete(m, k)
		}
	}
}

func evictOldest(m map[string]*sigEntry, maxSize int) {
	for len(m) > maxSize {
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
		if oldestKey == "" {
			return
		}
		delete(m, oldestKey)
	}
}
