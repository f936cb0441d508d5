package cache

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"arbflow/internal/model"
	"arbflow/logger"
)

// Entry is a cached field value together with the venue that produced it, so
// snapshots served from cache still report an honest source.
type Entry struct {
	Venue     string
	Value     interface{}
	FetchedAt time.Time
}

// Store is a short-TTL read-through cache over market-data fields. It exists
// to absorb bursts of snapshot requests without spending venue rate budget;
// it is not a persistence layer.
type Store struct {
	log *logger.Log
	c   *gocache.Cache
	ttl time.Duration
}

// New builds a store. Entries expire after ttl; the janitor sweeps expired
// entries every sweep interval.
func New(log *logger.Log, ttl, sweep time.Duration) *Store {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if sweep <= 0 {
		sweep = time.Minute
	}
	return &Store{
		log: log,
		c:   gocache.New(ttl, sweep),
		ttl: ttl,
	}
}

// Entries are scoped by venue so a value fetched from one venue is never
// served on behalf of another. The fallback walk consults the cache per
// candidate, which keeps cached data aligned with venue selection: forcing a
// different venue active bypasses the previous venue's entries.
func key(venue, symbol string, field model.Field) string {
	return fmt.Sprintf("%s|%s|%s", venue, symbol, field)
}

// Get returns the cached entry for a venue/symbol/field triple if it is
// still fresh.
func (s *Store) Get(venue, symbol string, field model.Field) (Entry, bool) {
	v, ok := s.c.Get(key(venue, symbol, field))
	if !ok {
		logger.IncrementCacheMiss()
		return Entry{}, false
	}
	logger.IncrementCacheHit()
	return v.(Entry), true
}

// Put stores a freshly fetched value under the default TTL.
func (s *Store) Put(venue, symbol string, field model.Field, value interface{}) {
	s.c.SetDefault(key(venue, symbol, field), Entry{
		Venue:     venue,
		Value:     value,
		FetchedAt: time.Now(),
	})
}

// Flush drops every entry. Exposed to operators via the control API.
func (s *Store) Flush() {
	n := s.c.ItemCount()
	s.c.Flush()
	s.log.WithComponent("cache").WithFields(logger.Fields{
		"dropped": n,
	}).Info("cache flushed")
}

// Len reports the number of live entries, counting not-yet-swept expired ones.
func (s *Store) Len() int { return s.c.ItemCount() }

// TTL reports the configured entry lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }
