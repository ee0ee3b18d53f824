package answer

import (
	"strings"
	"sync"
)

// Entry is a cached final answer.
type Entry struct {
	Content   string
	Citations []string
}

// Cache remembers the answers to recent questions, evicting the oldest
// entry once full.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Entry
	order    []string
}

// NewCache creates a cache holding up to capacity answers.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{capacity: capacity, entries: make(map[string]Entry, capacity)}
}

// Get returns the answer cached for question.
func (c *Cache) Get(question string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(question)]
	return entry, ok
}

// Put stores the answer for question.
func (c *Cache) Put(question string, entry Entry) {
	key := cacheKey(question)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		if len(c.order) == c.capacity {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = entry
}

func cacheKey(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}
