package localstore

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-contacts/internal/domain"
)

// Cache is the last known full contact list.
type Cache struct {
	store *Store
	log   zerolog.Logger
}

// Load returns the stored snapshot. A missing slot yields an empty list, as
// does a corrupt one (after logging it).
func (c *Cache) Load() []domain.Contact {
	raw, err := c.store.read(cacheKey)
	if err != nil {
		c.log.Error().Err(err).Msg("reading contact cache")
		return []domain.Contact{}
	}
	if len(raw) == 0 {
		return []domain.Contact{}
	}
	var out []domain.Contact
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Error().Err(err).Msg("contact cache is corrupt, starting empty")
		return []domain.Contact{}
	}
	if out == nil {
		out = []domain.Contact{}
	}
	return out
}

// Save overwrites the snapshot with contacts.
func (c *Cache) Save(contacts []domain.Contact) {
	if contacts == nil {
		contacts = []domain.Contact{}
	}
	raw, err := json.Marshal(contacts)
	if err != nil {
		c.log.Error().Err(err).Msg("encoding contact cache")
		return
	}
	if err := c.store.write(cacheKey, raw); err != nil {
		c.log.Error().Err(err).Int("contacts", len(contacts)).Msg("writing contact cache")
	}
}
