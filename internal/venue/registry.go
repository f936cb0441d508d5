package venue

import (
	"sort"

	"arbflow/config"
	"arbflow/internal/model"
	"arbflow/internal/netx"
	"arbflow/internal/venue/binance"
	"arbflow/internal/venue/bybit"
	"arbflow/internal/venue/kucoin"
	"arbflow/internal/venue/okx"
	"arbflow/logger"
)

// Descriptor is the static identity of a configured venue.
type Descriptor struct {
	ID            string
	DisplayName   string
	Priority      int
	GeoRestricted bool
}

// Registry holds the configured venues in priority order together with their
// connectors. It is immutable after construction; runtime state (health,
// active venue) lives elsewhere.
type Registry struct {
	descriptors []Descriptor
	connectors  map[string]Connector
}

// NewRegistry builds connectors for every configured venue. Config validation
// already rejected unknown ids, so an unmatched id here is a programming
// error surfaced as ConfigError.
func NewRegistry(cfg *config.Config, client *netx.Client, log *logger.Log) (*Registry, error) {
	r := &Registry{
		descriptors: make([]Descriptor, 0, len(cfg.Venues)),
		connectors:  make(map[string]Connector, len(cfg.Venues)),
	}

	for _, vc := range cfg.Venues {
		var conn Connector
		switch vc.ID {
		case "binance":
			conn = binance.New(vc, client, log)
		case "bybit":
			conn = bybit.New(vc, client, log)
		case "okx":
			conn = okx.New(vc, client, log)
		case "kucoin":
			conn = kucoin.New(vc, client, log)
		default:
			return nil, &model.ConfigError{Field: "venues", Reason: "no connector for venue " + vc.ID}
		}

		display := vc.DisplayName
		if display == "" {
			display = vc.ID
		}
		r.descriptors = append(r.descriptors, Descriptor{
			ID:            vc.ID,
			DisplayName:   display,
			Priority:      vc.Priority,
			GeoRestricted: vc.GeoRestricted,
		})
		r.connectors[vc.ID] = conn
	}

	sort.SliceStable(r.descriptors, func(i, j int) bool {
		return r.descriptors[i].Priority < r.descriptors[j].Priority
	})
	return r, nil
}

// List returns venues ordered by ascending priority value (1 is preferred).
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Connector returns the connector for a venue id.
func (r *Registry) Connector(id string) (Connector, bool) {
	c, ok := r.connectors[id]
	return c, ok
}

// Get returns the descriptor for a venue id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	for _, d := range r.descriptors {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
