// Package filter implements the collector's filter chain: ordered
// predicates evaluated left-to-right in the ingestion hot path, short-
// circuiting on the first rejection.
package filter

import (
	"strings"
	"sync"
	"sync/atomic"

	"logcollectord/pkg/logentry"
)

// Filter is a pure, fast predicate. ShouldFilter returns true to drop the
// entry. Implementations must not perform I/O: the chain runs inline on
// every SubmitLog call.
type Filter interface {
	ShouldFilter(entry logentry.LogEntry) bool
}

// LevelFilter drops entries strictly below MinLevel.
type LevelFilter struct {
	MinLevel logentry.Level
}

// ShouldFilter implements Filter.
func (f LevelFilter) ShouldFilter(entry logentry.LogEntry) bool {
	return entry.Level < f.MinLevel
}

// KeywordFilter drops or keeps entries based on substring match against
// Words. When RejectIfPresent is true, a matching entry is dropped;
// otherwise only matching entries are kept (non-matching ones dropped).
type KeywordFilter struct {
	Words            []string
	RejectIfPresent  bool
}

// ShouldFilter implements Filter.
func (f KeywordFilter) ShouldFilter(entry logentry.LogEntry) bool {
	matched := false
	for _, w := range f.Words {
		if w == "" {
			continue
		}
		if strings.Contains(entry.Content, w) {
			matched = true
			break
		}
	}
	if f.RejectIfPresent {
		return matched
	}
	return !matched
}

// Chain is a mutated-under-lock, read-as-snapshot ordered filter list.
// Writers (AddFilter/Clear) take the write lock and rebuild the backing
// slice; readers on the hot path load an atomic snapshot and never block
// on a writer, matching the teacher's read-mostly/rebuild-on-write idiom.
type Chain struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]Filter]
}

// NewChain returns an empty filter chain.
func NewChain() *Chain {
	c := &Chain{}
	empty := make([]Filter, 0)
	c.snapshot.Store(&empty)
	return c
}

// Add appends a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := *c.snapshot.Load()
	next := make([]Filter, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = f
	c.snapshot.Store(&next)
}

// Clear removes all filters. Entries already evaluated and dropped before
// Clear was called are not retroactively un-filtered.
func (c *Chain) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	empty := make([]Filter, 0)
	c.snapshot.Store(&empty)
}

// ShouldFilter evaluates the chain left-to-right, returning true (and
// stopping) on the first filter that rejects the entry.
func (c *Chain) ShouldFilter(entry logentry.LogEntry) bool {
	filters := *c.snapshot.Load()
	for _, f := range filters {
		if f.ShouldFilter(entry) {
			return true
		}
	}
	return false
}

// Len reports the current number of installed filters.
func (c *Chain) Len() int {
	return len(*c.snapshot.Load())
}
