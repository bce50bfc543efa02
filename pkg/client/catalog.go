package client

import (
	"errors"
	"sync"
)

// CategoryChannels is the category every synced channel is published under
const CategoryChannels = "Channels"

// MemoryCatalog keeps published channels in publish order
type MemoryCatalog struct {
	mu       sync.RWMutex
	channels []Channel
	category map[uint32]string
}

// NewMemoryCatalog returns an empty catalog
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{category: make(map[uint32]string)}
}

func (c *MemoryCatalog) Publish(ch Channel, category string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, ch)
	c.category[ch.ID] = category
	return nil
}

// Channels returns a copy of everything published so far
func (c *MemoryCatalog) Channels() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Channel, len(c.channels))
	copy(out, c.channels)
	return out
}

// Category returns the category channel id was published under
func (c *MemoryCatalog) Category(id uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.category[id]
	return cat, ok
}

// Len returns the number of published channels
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

// MultiCatalog publishes to every catalog in order. All of them are tried;
// the errors are joined.
type MultiCatalog []Catalog

func (m MultiCatalog) Publish(ch Channel, category string) error {
	var errs []error
	for _, c := range m {
		if err := c.Publish(ch, category); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CatalogFunc adapts a function to the Catalog interface
type CatalogFunc func(ch Channel, category string) error

func (f CatalogFunc) Publish(ch Channel, category string) error {
	return f(ch, category)
}
