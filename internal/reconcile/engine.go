// Package reconcile decides, per mutation, whether a contact change goes
// straight to the contacts store or is applied to the local cache and
// queued, and replays the queue once the store is reachable again.
//
// Every mutation runs under one engine mutex: read the cache, call the
// store, write the cache, append to the log. Transport failures never
// escape as errors the caller must handle; they flip the connectivity
// state, get recorded as LastError and take the queue path instead.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/tbourn/go-contacts/internal/connectivity"
	"github.com/tbourn/go-contacts/internal/domain"
	"github.com/tbourn/go-contacts/internal/randomuser"
	"github.com/tbourn/go-contacts/internal/remote"
)

var (
	// ErrOffline is returned by operations that need the store.
	ErrOffline = errors.New("cannot perform while offline")
	// ErrDuplicateEmail is returned when the store rejects an email that
	// another contact already uses.
	ErrDuplicateEmail = errors.New("a contact with this email already exists")
	// ErrNotFound is returned for ids unknown to the cache or the store.
	ErrNotFound = errors.New("contact not found")
	// ErrInvalidContact is returned for forms the store would reject.
	ErrInvalidContact = errors.New("invalid contact")
)

// LocalIDPrefix marks ids assigned to contacts created while offline.
const LocalIDPrefix = "local_"

// scheduledReloadTimeout bounds a reload fired by the post-drain timer.
const scheduledReloadTimeout = 30 * time.Second

// Store is the remote contacts store.
type Store interface {
	List(ctx context.Context) ([]domain.Contact, error)
	Get(ctx context.Context, id string) (*domain.Contact, error)
	Create(ctx context.Context, c domain.Contact, idemKey string) (*domain.Contact, error)
	Update(ctx context.Context, id string, c domain.Contact) (*domain.Contact, error)
	Delete(ctx context.Context, id string) error
}

// Cache is the durable contact snapshot.
type Cache interface {
	Load() []domain.Contact
	Save([]domain.Contact)
}

// PendingLog is the durable queue of unconfirmed mutations.
type PendingLog interface {
	Append(op domain.Operation, c domain.Contact)
	Operations() []domain.PendingOperation
	Len() int
	Reassign(from, to string) int
	DrainAndReplay(ctx context.Context, apply func(context.Context, domain.PendingOperation) error) int
}

// Connectivity is the reachability state the engine reads and reports to.
type Connectivity interface {
	Online() bool
	SetOnline(bool)
	Subscribe() <-chan connectivity.Event
}

// Options tunes an Engine. Zero values pick the defaults noted per field.
type Options struct {
	// DrainDelay is the pause between a became-online event and the drain.
	DrainDelay time.Duration
	// ReloadDelay is the pause between a drain that removed records and
	// the full reload that follows it.
	ReloadDelay time.Duration
	// Generator feeds AddRandomBatch; without one the batch fails.
	Generator randomuser.Generator
	Logger    zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the reconciliation state machine.
type Engine struct {
	store   Store
	cache   Cache
	pending PendingLog
	conn    Connectivity
	gen     randomuser.Generator
	log     zerolog.Logger

	drainDelay  time.Duration
	reloadDelay time.Duration
	now         func() time.Time
	validate    *validator.Validate

	mu      sync.Mutex
	aliases map[string]string // local id -> store id

	errMu   sync.Mutex
	lastErr error

	reloadMu    sync.Mutex
	reloadGen   uint64
	reloadTimer *time.Timer
}

// New wires an Engine. It does not touch the store.
func New(store Store, cache Cache, pending PendingLog, conn Connectivity, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:       store,
		cache:       cache,
		pending:     pending,
		conn:        conn,
		gen:         opts.Generator,
		log:         opts.Logger,
		drainDelay:  opts.DrainDelay,
		reloadDelay: opts.ReloadDelay,
		now:         now,
		validate:    validator.New(),
		aliases:     make(map[string]string),
	}
}

// Run drains the queue after every became-online event until ctx is done
// or the connectivity subscription closes.
func (e *Engine) Run(ctx context.Context) error {
	events := e.conn.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev {
			case connectivity.BecameOffline:
				e.log.Warn().Int("pending", e.pending.Len()).Msg("store unreachable, queueing changes")
			case connectivity.BecameOnline:
				if !sleepCtx(ctx, e.drainDelay) {
					return nil
				}
				n, err := e.Drain(ctx)
				if err != nil {
					e.log.Warn().Err(err).Msg("drain after reconnect failed")
					continue
				}
				e.log.Info().Int("replayed", n).Msg("drained pending operations")
			}
		}
	}
}

// Close cancels a scheduled reload and waits for the mutation in flight, so
// the local store can be closed afterwards.
func (e *Engine) Close() {
	e.cancelScheduledReload()
	e.mu.Lock()
	defer e.mu.Unlock()
}

// Contacts returns the cached snapshot.
func (e *Engine) Contacts() []domain.Contact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Load()
}

// Contact looks id up, following the alias of a synced local id. Online it
// asks the store and falls back to the cache when the store is unreachable
// or does not know a contact that is still pending.
func (e *Engine) Contact(ctx context.Context, id string) (domain.Contact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rid := e.resolve(id)
	contacts := e.cache.Load()
	idx, inCache := find(contacts, rid)

	if e.conn.Online() && !isLocalID(rid) {
		got, err := e.store.Get(ctx, rid)
		if err == nil {
			return *got, nil
		}
		queue, mapped := e.storeErr(ctx, err)
		if !queue && !errors.Is(mapped, ErrNotFound) {
			return domain.Contact{}, mapped
		}
		if !queue && !inCache {
			return domain.Contact{}, mapped
		}
	}
	if !inCache {
		return domain.Contact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return contacts[idx], nil
}

// Pending returns the queued operations in replay order.
func (e *Engine) Pending() []domain.PendingOperation {
	return e.pending.Operations()
}

// LastError returns the most recent store or transport failure.
func (e *Engine) LastError() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

func (e *Engine) setLastErr(err error) {
	e.errMu.Lock()
	e.lastErr = err
	e.errMu.Unlock()
}

// storeErr records err and maps it onto the engine sentinels. Transient
// failures mark the store offline and report queue=true so the caller takes
// the offline path. Cancellation by the caller is passed through untouched.
func (e *Engine) storeErr(ctx context.Context, err error) (queue bool, mapped error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	e.setLastErr(err)
	var se *remote.StatusError
	switch {
	case remote.IsTransient(err):
		e.log.Warn().Err(err).Msg("store unreachable")
		e.conn.SetOnline(false)
		return true, nil
	case errors.Is(err, remote.ErrConflict):
		return false, fmt.Errorf("%w: %w", ErrDuplicateEmail, err)
	case errors.Is(err, remote.ErrNotFound):
		return false, fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.As(err, &se) && se.Status >= 400 && se.Status < 500:
		return false, fmt.Errorf("%w: %w", ErrInvalidContact, err)
	}
	return false, err
}

// queuedFor reports whether a queued record still targets contact id.
// e.mu must be held.
func (e *Engine) queuedFor(id string) bool {
	for _, op := range e.pending.Operations() {
		if e.resolve(op.Data.ID) == id {
			return true
		}
	}
	return false
}

// catchUp replays the queue before a direct change to contact id goes to
// the store, so an older queued edit of id cannot land on top of it. e.mu
// must be held.
func (e *Engine) catchUp(ctx context.Context, id string) {
	if !e.conn.Online() || !e.queuedFor(e.resolve(id)) {
		return
	}
	n, err := e.drainLocked(ctx)
	if err != nil {
		e.log.Warn().Err(err).Str("contact_id", id).Msg("catching up before change failed")
		return
	}
	e.log.Debug().Int("replayed", n).Str("contact_id", id).Msg("caught up before change")
}

// resolve follows the alias of a local id that has been synced.
func (e *Engine) resolve(id string) string {
	if rid, ok := e.aliases[id]; ok {
		return rid
	}
	return id
}

func newLocalID() string {
	return LocalIDPrefix + ksuid.New().String()
}

func isLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

func find(contacts []domain.Contact, id string) (int, bool) {
	for i := range contacts {
		if contacts[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
