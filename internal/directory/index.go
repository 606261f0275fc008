// ABOUTME: Best-effort cache mapping lowercase usernames to network IDs.
// ABOUTME: Last write wins; entries persist for the process lifetime.

package directory

import (
	"strings"
	"sync"

	"github.com/2389/warden/internal/protocol"
)

// Index caches username-to-ID mappings observed during scans and
// resolutions. Absence of an entry means "not observed yet", never "does not
// exist". There is no eviction: usernames can be reassigned upstream and
// staleness is an accepted tradeoff.
type Index struct {
	mu     sync.RWMutex
	byName map[string]int64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byName: make(map[string]int64)}
}

// Record overwrites the mapping for a single username.
func (i *Index) Record(username string, id int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byName[strings.ToLower(username)] = id
}

// RecordScan overwrites mappings for every member that has a username and
// returns the count written.
func (i *Index) RecordScan(members []protocol.Member) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	count := 0
	for _, m := range members {
		if m.Username == "" {
			continue
		}
		i.byName[strings.ToLower(m.Username)] = m.ID
		count++
	}
	return count
}

// Lookup returns the cached ID for a username, if observed.
func (i *Index) Lookup(username string) (int64, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.byName[strings.ToLower(username)]
	return id, ok
}

// Len returns the number of cached mappings.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byName)
}
