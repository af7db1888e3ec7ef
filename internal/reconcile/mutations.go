package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/go-contacts/internal/domain"
)

// Create adds a contact. Online it is posted to the store; offline, or when
// the store turns out to be unreachable, it gets a local id, lands in the
// cache marked pending and a CREATE is queued. The local id doubles as the
// idempotency key so a queued replay of a request the store already
// committed returns the same contact.
func (e *Engine) Create(ctx context.Context, f Form) (domain.Contact, error) {
	f = f.normalized()
	if err := e.check(f); err != nil {
		return domain.Contact{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.build(f)
	c.ID = newLocalID()

	if e.conn.Online() {
		created, err := e.store.Create(ctx, c, c.ID)
		if err == nil {
			created.PendingSync = false
			e.cache.Save(append(e.cache.Load(), *created))
			e.log.Info().Str("contact_id", created.ID).Msg("contact created")
			return *created, nil
		}
		if queue, mapped := e.storeErr(ctx, err); !queue {
			return domain.Contact{}, mapped
		}
	}

	c.PendingSync = true
	e.cache.Save(append(e.cache.Load(), c))
	e.pending.Append(domain.OperationCreate, c)
	e.log.Info().Str("contact_id", c.ID).Msg("contact created offline, queued")
	return c, nil
}

// Update replaces the editable fields of contact id with f. See merge for
// the picture rule. A store 404 keeps the local edit and reports
// ErrNotFound; a 409 changes nothing and reports ErrDuplicateEmail.
// Online, records still queued for id are replayed first, and the edit is
// queued behind any the store keeps refusing.
func (e *Engine) Update(ctx context.Context, id string, f Form) (domain.Contact, error) {
	f = f.normalized()
	if err := e.check(f); err != nil {
		return domain.Contact{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.catchUp(ctx, id)
	contacts, idx, err := e.locate(ctx, id)
	if err != nil {
		return domain.Contact{}, err
	}
	return e.applyUpdate(ctx, contacts, idx, e.merge(contacts[idx], f))
}

// ToggleFavorite flips the favorite flag of contact id through the update
// path.
func (e *Engine) ToggleFavorite(ctx context.Context, id string) (domain.Contact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.catchUp(ctx, id)
	contacts, idx, err := e.locate(ctx, id)
	if err != nil {
		return domain.Contact{}, err
	}
	updated := contacts[idx]
	updated.IsFavorite = !updated.IsFavorite
	return e.applyUpdate(ctx, contacts, idx, updated)
}

// Delete removes contact id from the cache at once, then from the store or
// through a queued DELETE carrying the whole contact. The store answering
// 404 counts as done. Records still queued for id are replayed first; if
// any stay queued the DELETE goes in behind them.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.catchUp(ctx, id)
	rid := e.resolve(id)
	online := e.conn.Online() && !isLocalID(rid) && !e.queuedFor(rid)

	contacts := e.cache.Load()
	idx, cached := find(contacts, rid)
	victim := domain.Contact{ID: rid}
	switch {
	case cached:
		victim = contacts[idx]
		contacts = append(contacts[:idx], contacts[idx+1:]...)
		e.cache.Save(contacts)
	case !online:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if online {
		err := e.store.Delete(ctx, rid)
		if err == nil {
			e.log.Info().Str("contact_id", rid).Msg("contact deleted")
			return nil
		}
		queue, mapped := e.storeErr(ctx, err)
		switch {
		case errors.Is(mapped, ErrNotFound) && cached:
			return nil
		case !queue:
			return mapped
		}
	}

	victim.PendingSync = false
	e.pending.Append(domain.OperationDelete, victim)
	e.log.Info().Str("contact_id", rid).Msg("contact deleted offline, queued")
	return nil
}

// AddRandomBatch asks the generator for count contacts and posts each one
// to the store, skipping emails the store already holds, then reloads the
// cache. It only works online; offline it returns an empty result and
// ErrOffline without touching the cache or the log.
func (e *Engine) AddRandomBatch(ctx context.Context, count int) ([]domain.Contact, error) {
	added := []domain.Contact{}
	if !e.conn.Online() {
		return added, ErrOffline
	}
	if e.gen == nil {
		return added, errors.New("reconcile: no random contact generator configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	people, err := e.gen.Generate(ctx, count)
	if err != nil {
		e.setLastErr(err)
		return added, fmt.Errorf("generate contacts: %w", err)
	}

	for _, p := range people {
		p.ID = newLocalID()
		created, err := e.store.Create(ctx, p, p.ID)
		if err == nil {
			created.PendingSync = false
			added = append(added, *created)
			continue
		}
		queue, mapped := e.storeErr(ctx, err)
		if errors.Is(mapped, ErrDuplicateEmail) || errors.Is(mapped, ErrInvalidContact) {
			e.log.Debug().Err(err).Str("email", p.Email).Msg("skipping generated contact")
			continue
		}
		if queue {
			mapped = ErrOffline
		}
		e.reloadIfOnline(ctx)
		return added, mapped
	}

	e.log.Info().Int("requested", count).Int("added", len(added)).Msg("random contacts added")
	if err := e.reloadLocked(ctx); err != nil {
		return added, err
	}
	return added, nil
}

// locate loads the cache and finds id in it. Online, a contact the cache
// does not hold is fetched from the store and appended. e.mu must be held.
func (e *Engine) locate(ctx context.Context, id string) ([]domain.Contact, int, error) {
	rid := e.resolve(id)
	contacts := e.cache.Load()
	if idx, ok := find(contacts, rid); ok {
		return contacts, idx, nil
	}
	if !e.conn.Online() || isLocalID(rid) {
		return nil, -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	got, err := e.store.Get(ctx, rid)
	if err != nil {
		if queue, mapped := e.storeErr(ctx, err); !queue {
			return nil, -1, mapped
		}
		return nil, -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	got.PendingSync = false
	contacts = append(contacts, *got)
	return contacts, len(contacts) - 1, nil
}

// applyUpdate sends updated to the store or queues it, and writes the
// outcome into contacts[idx]. e.mu must be held.
func (e *Engine) applyUpdate(ctx context.Context, contacts []domain.Contact, idx int, updated domain.Contact) (domain.Contact, error) {
	if e.conn.Online() && !isLocalID(updated.ID) && !e.queuedFor(updated.ID) {
		got, err := e.store.Update(ctx, updated.ID, updated)
		if err == nil {
			got.PendingSync = false
			contacts[idx] = *got
			e.cache.Save(contacts)
			e.log.Info().Str("contact_id", got.ID).Msg("contact updated")
			return *got, nil
		}
		queue, mapped := e.storeErr(ctx, err)
		switch {
		case errors.Is(mapped, ErrNotFound):
			updated.PendingSync = false
			contacts[idx] = updated
			e.cache.Save(contacts)
			return updated, mapped
		case !queue:
			return domain.Contact{}, mapped
		}
	}

	updated.PendingSync = true
	contacts[idx] = updated
	e.cache.Save(contacts)
	e.pending.Append(domain.OperationUpdate, updated)
	e.log.Info().Str("contact_id", updated.ID).Msg("contact updated offline, queued")
	return updated, nil
}

// reloadIfOnline refreshes the cache after a partially applied batch. e.mu
// must be held.
func (e *Engine) reloadIfOnline(ctx context.Context) {
	if !e.conn.Online() {
		return
	}
	if err := e.reloadLocked(ctx); err != nil {
		e.log.Warn().Err(err).Msg("reload after partial batch failed")
	}
}
