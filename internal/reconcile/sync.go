package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/go-contacts/internal/domain"
	"github.com/tbourn/go-contacts/internal/remote"
)

// errSkipped keeps the rest of a drain pass queued once the store has
// become unreachable during it.
var errSkipped = errors.New("store went offline during drain")

// Drain replays the pending log against the store in insertion order and
// returns how many records it removed. With an empty log it soft-refreshes
// the cache instead. When anything was removed a full reload is scheduled
// after the reload delay.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drainLocked(ctx)
}

func (e *Engine) drainLocked(ctx context.Context) (int, error) {
	if e.pending.Len() == 0 {
		return 0, e.softRefreshLocked(ctx)
	}

	wentOffline := false
	removed := e.pending.DrainAndReplay(ctx, func(ctx context.Context, op domain.PendingOperation) error {
		if wentOffline {
			return errSkipped
		}
		err := e.replay(ctx, op)
		if err != nil && remoteUnreachable(err) {
			wentOffline = true
		}
		return err
	})
	if err := ctx.Err(); err != nil {
		return removed, err
	}

	e.log.Info().Int("removed", removed).Int("left", e.pending.Len()).Msg("drain finished")
	if removed > 0 {
		e.scheduleReload(e.reloadDelay)
	}
	return removed, nil
}

// replay sends one queued record. e.mu must be held.
func (e *Engine) replay(ctx context.Context, op domain.PendingOperation) error {
	data := op.Data
	data.PendingSync = false

	switch op.Operation {
	case domain.OperationCreate:
		localID := data.ID
		created, err := e.store.Create(ctx, data, localID)
		if err != nil {
			return e.replayErr(ctx, op, err)
		}
		if created.ID != localID {
			e.aliases[localID] = created.ID
			e.pending.Reassign(localID, created.ID)
			e.rewriteID(localID, *created)
		}
		return nil

	case domain.OperationUpdate:
		id := e.resolve(data.ID)
		if isLocalID(id) {
			return fmt.Errorf("replay %s %s: contact %s is not on the store yet", op.Operation, op.ID, data.ID)
		}
		data.ID = id
		if _, err := e.store.Update(ctx, id, data); err != nil {
			return e.replayErr(ctx, op, err)
		}
		return nil

	case domain.OperationDelete:
		id := e.resolve(data.ID)
		if isLocalID(id) {
			return fmt.Errorf("replay %s %s: contact %s is not on the store yet", op.Operation, op.ID, data.ID)
		}
		err := e.store.Delete(ctx, id)
		if err != nil {
			if _, mapped := e.storeErr(ctx, err); errors.Is(mapped, ErrNotFound) {
				return nil
			}
			return fmt.Errorf("replay %s %s: %w", op.Operation, op.ID, err)
		}
		return nil
	}
	return fmt.Errorf("replay %s: unknown operation %q", op.ID, op.Operation)
}

func (e *Engine) replayErr(ctx context.Context, op domain.PendingOperation, err error) error {
	e.storeErr(ctx, err)
	return fmt.Errorf("replay %s %s: %w", op.Operation, op.ID, err)
}

// rewriteID gives the cached contact created offline as localID the id and
// timestamps the store assigned. Its fields stay as cached since later
// queued edits may already be applied to them. e.mu must be held.
func (e *Engine) rewriteID(localID string, created domain.Contact) {
	contacts := e.cache.Load()
	idx, ok := find(contacts, localID)
	if !ok {
		return
	}
	contacts[idx].ID = created.ID
	contacts[idx].CreatedAt = created.CreatedAt
	contacts[idx].UpdatedAt = created.UpdatedAt
	e.cache.Save(contacts)
	e.log.Debug().Str("local_id", localID).Str("contact_id", created.ID).Msg("offline contact synced")
}

// SoftRefresh replaces the cache with the store's list, keeping the cached
// picture of every contact that has one.
func (e *Engine) SoftRefresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.softRefreshLocked(ctx)
}

func (e *Engine) softRefreshLocked(ctx context.Context) error {
	list, err := e.list(ctx)
	if err != nil {
		return err
	}

	pictures := make(map[string]domain.Picture)
	for _, c := range e.cache.Load() {
		if !c.Picture.IsEmpty() {
			pictures[c.ID] = c.Picture
		}
	}
	for i := range list {
		if p, ok := pictures[list[i].ID]; ok {
			list[i].Picture = p
		}
	}
	e.cache.Save(e.overlayPending(list, e.pending.Operations()))
	return nil
}

// Reload replaces the cache with the store's list. It supersedes a reload
// scheduled by an earlier drain.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reloadLocked(ctx)
}

func (e *Engine) reloadLocked(ctx context.Context) error {
	e.cancelScheduledReload()
	return e.fetchAndReplace(ctx)
}

// fetchAndReplace swaps in the store's list with still-queued operations
// laid over it, then forgets aliases no queued operation needs. e.mu must
// be held.
func (e *Engine) fetchAndReplace(ctx context.Context) error {
	list, err := e.list(ctx)
	if err != nil {
		return err
	}
	ops := e.pending.Operations()
	e.cache.Save(e.overlayPending(list, ops))
	e.pruneAliases(ops)
	e.log.Debug().Int("contacts", len(list)).Int("pending", len(ops)).Msg("cache reloaded")
	return nil
}

func (e *Engine) list(ctx context.Context) ([]domain.Contact, error) {
	list, err := e.store.List(ctx)
	if err != nil {
		queue, mapped := e.storeErr(ctx, err)
		if queue {
			return nil, fmt.Errorf("%w: %w", ErrOffline, err)
		}
		return nil, mapped
	}
	for i := range list {
		list[i].PendingSync = false
	}
	return list, nil
}

// overlayPending applies queued operations to a fresh list so unconfirmed
// changes stay visible, marked pending.
func (e *Engine) overlayPending(list []domain.Contact, ops []domain.PendingOperation) []domain.Contact {
	for _, op := range ops {
		c := op.Data
		c.ID = e.resolve(c.ID)
		c.PendingSync = true
		idx, ok := find(list, c.ID)

		switch op.Operation {
		case domain.OperationCreate, domain.OperationUpdate:
			if ok {
				list[idx] = c
			} else if op.Operation == domain.OperationCreate || isLocalID(c.ID) {
				list = append(list, c)
			}
		case domain.OperationDelete:
			if ok {
				list = append(list[:idx], list[idx+1:]...)
			}
		}
	}
	return list
}

// pruneAliases drops aliases no queued operation refers to. e.mu must be
// held.
func (e *Engine) pruneAliases(ops []domain.PendingOperation) {
	if len(e.aliases) == 0 {
		return
	}
	used := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		used[op.Data.ID] = struct{}{}
	}
	for local := range e.aliases {
		if _, ok := used[local]; !ok {
			delete(e.aliases, local)
		}
	}
}

// scheduleReload arms a reload after d, replacing any reload already
// armed. e.mu may be held.
func (e *Engine) scheduleReload(d time.Duration) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	if e.reloadTimer != nil {
		e.reloadTimer.Stop()
	}
	e.reloadGen++
	gen := e.reloadGen
	e.reloadTimer = time.AfterFunc(d, func() { e.runScheduledReload(gen) })
}

func (e *Engine) runScheduledReload(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reloadMu.Lock()
	current := gen == e.reloadGen && e.reloadTimer != nil
	if current {
		e.reloadTimer = nil
	}
	e.reloadMu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), scheduledReloadTimeout)
	defer cancel()
	if err := e.fetchAndReplace(ctx); err != nil {
		e.log.Warn().Err(err).Msg("scheduled reload failed")
	}
}

// cancelScheduledReload disarms a pending scheduled reload. A callback
// already waiting for e.mu sees the bumped generation and returns.
func (e *Engine) cancelScheduledReload() {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	if e.reloadTimer != nil {
		e.reloadTimer.Stop()
		e.reloadTimer = nil
	}
	e.reloadGen++
}

// ReloadScheduled reports whether a post-drain reload is armed.
func (e *Engine) ReloadScheduled() bool {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	return e.reloadTimer != nil
}

func remoteUnreachable(err error) bool {
	return errors.Is(err, errSkipped) || remote.IsTransient(err)
}
