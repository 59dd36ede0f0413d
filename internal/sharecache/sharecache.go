// Package sharecache keeps the short-lived mapping from "item #N on
// the list you were just shown" back to a pending-share record in the
// store. Clients only ever see small display indices, never record
// IDs, so a stale or forged index fails closed and the client has to
// re-list.
package sharecache

import (
	"sync"
	"time"
)

// Record is one pending share as shown to a client.
type Record struct {
	ShareID        int64
	SenderIdentity string
	SuggestedAlias string
}

type row struct {
	records  []Record
	cachedAt time.Time
}

// Cache is keyed by requesting client. Rows expire after a TTL and the
// least-recently-cached row is evicted when the table is full.
type Cache struct {
	ttl      time.Duration
	capacity int

	mu   sync.Mutex
	rows map[uint32]*row
}

func New(ttl time.Duration, capacity int) *Cache {
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		rows:     make(map[uint32]*row),
	}
}

// Store replaces the client's row with a freshly numbered list.
func (c *Cache) Store(client uint32, records []Record, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.rows[client]; !exists && len(c.rows) >= c.capacity {
		c.evictLocked()
	}
	c.rows[client] = &row{records: records, cachedAt: now}
}

// Resolve translates a displayed index (1-based) back to a record.
// Fails on a missing row, an expired row, or an out-of-bounds index.
func (c *Cache) Resolve(client uint32, index int, now time.Time) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rows[client]
	if !ok {
		return Record{}, false
	}
	if now.Sub(r.cachedAt) > c.ttl {
		delete(c.rows, client)
		return Record{}, false
	}
	if index < 1 || index > len(r.records) {
		return Record{}, false
	}
	return r.records[index-1], true
}

// Invalidate drops the client's row, forcing a re-list. Called after a
// share is accepted or rejected so the remaining indices can't drift.
func (c *Cache) Invalidate(client uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, client)
}

// Sweep removes expired rows. The maintenance loop calls this
// periodically.
func (c *Cache) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for client, r := range c.rows {
		if now.Sub(r.cachedAt) > c.ttl {
			delete(c.rows, client)
		}
	}
}

func (c *Cache) evictLocked() {
	var victim uint32
	var oldest time.Time
	first := true
	for client, r := range c.rows {
		if first || r.cachedAt.Before(oldest) {
			victim, oldest = client, r.cachedAt
			first = false
		}
	}
	if !first {
		delete(c.rows, victim)
	}
}
