package cache

import "ratinglens/internal/lookup"

// Store defines the interface of the rating cache.
// Keys are raw titles; implementations normalize them so lookups are
// case-insensitive.
type Store interface {
	// Get returns the cached rating for a title.
	// Returns nil and false if absent or expired.
	Get(title string) (*lookup.Rating, bool)

	// Put stores a rating for a title, replacing any previous entry
	Put(title string, value *lookup.Rating)

	// Len returns the number of entries currently held
	Len() int

	// Close releases any resources held by the store
	Close()
}
