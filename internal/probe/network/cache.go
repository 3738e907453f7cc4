package network

import (
	"sort"
	"sync"
)

// Cache is the connection cache owned by the Network Probe (spec §3,
// §4.7 step 2). Entries seen in a cycle retain their prior
// payload_snapshot; entries not seen are evicted at the end of the
// cycle (spec §8 "connection cache freshness").
type Cache struct {
	mu      sync.Mutex
	entries map[Key]Row
}

func NewCache() *Cache {
	return &Cache{entries: make(map[Key]Row)}
}

// Update merges this cycle's snapshot into the cache: new keys are
// inserted as-is; keys already present keep their existing
// payload_snapshot (the key is the connection tuple only, so a new
// explanation for the same tuple does not replace it); keys absent from
// `rows` are dropped. Returns the rows as they stand after the merge,
// in the same order as the input.
func (c *Cache) Update(rows []Row) []Row {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := make(map[Key]Row, len(rows))
	out := make([]Row, len(rows))
	for i, row := range rows {
		k := row.key()
		if prior, ok := c.entries[k]; ok {
			row.PayloadSnapshot = prior.PayloadSnapshot
		}
		fresh[k] = row
		out[i] = row
	}
	c.entries = fresh
	return out
}

// Snapshot returns up to the 25 most-recent entries by last_observed,
// descending (spec §4.7 "Snapshot API").
func (c *Cache) Snapshot() []Row {
	c.mu.Lock()
	rows := make([]Row, 0, len(c.entries))
	for _, row := range c.entries {
		rows = append(rows, row)
	}
	c.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LastObserved.After(rows[j].LastObserved)
	})
	if len(rows) > 25 {
		rows = rows[:25]
	}
	return rows
}
