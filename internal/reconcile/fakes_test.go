package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-contacts/internal/connectivity"
	"github.com/tbourn/go-contacts/internal/domain"
	"github.com/tbourn/go-contacts/internal/localstore"
	"github.com/tbourn/go-contacts/internal/remote"
)

// fakeStore behaves like the contacts server: it assigns its own ids,
// enforces unique emails and honours idempotency keys on create.
type fakeStore struct {
	mu       sync.Mutex
	contacts []domain.Contact
	keys     map[string]string
	seq      int
	down     bool
	failNext map[string]error
	calls    map[string]int
}

func newFakeStore(seed ...domain.Contact) *fakeStore {
	return &fakeStore{
		contacts: append([]domain.Contact(nil), seed...),
		keys:     make(map[string]string),
		failNext: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// failOnce makes the next call of op return err.
func (s *fakeStore) failOnce(op string, err error) {
	s.mu.Lock()
	s.failNext[op] = err
	s.mu.Unlock()
}

func (s *fakeStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *fakeStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *fakeStore) snapshot() []domain.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Contact(nil), s.contacts...)
}

// hit records a call; s.mu must be held.
func (s *fakeStore) hit(op string) error {
	s.calls[op]++
	if err, ok := s.failNext[op]; ok {
		delete(s.failNext, op)
		return err
	}
	if s.down {
		return &remote.TransientError{Op: op, Err: errors.New("connection refused")}
	}
	return nil
}

func statusErr(op string, code int) error {
	return fmt.Errorf("%s: %w", op, &remote.StatusError{Status: code, Message: http.StatusText(code)})
}

func (s *fakeStore) indexOf(id string) int {
	for i := range s.contacts {
		if s.contacts[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *fakeStore) emailTaken(email, except string) bool {
	for _, c := range s.contacts {
		if c.Email == email && c.ID != except {
			return true
		}
	}
	return false
}

func (s *fakeStore) List(context.Context) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("list"); err != nil {
		return nil, err
	}
	return append([]domain.Contact(nil), s.contacts...), nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("get"); err != nil {
		return nil, err
	}
	i := s.indexOf(id)
	if i < 0 {
		return nil, statusErr("get contact", http.StatusNotFound)
	}
	c := s.contacts[i]
	return &c, nil
}

func (s *fakeStore) Create(_ context.Context, c domain.Contact, key string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("create"); err != nil {
		return nil, err
	}
	if id, ok := s.keys[key]; ok {
		got := s.contacts[s.indexOf(id)]
		return &got, nil
	}
	if s.emailTaken(c.Email, "") {
		return nil, statusErr("create contact", http.StatusConflict)
	}
	s.seq++
	c.ID = fmt.Sprintf("srv-%d", s.seq)
	c.PendingSync = false
	c.CreatedAt = time.Date(2026, 1, 1, 0, 0, s.seq, 0, time.UTC)
	c.UpdatedAt = c.CreatedAt
	s.contacts = append(s.contacts, c)
	if key != "" {
		s.keys[key] = c.ID
	}
	return &c, nil
}

func (s *fakeStore) Update(_ context.Context, id string, c domain.Contact) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("update"); err != nil {
		return nil, err
	}
	i := s.indexOf(id)
	if i < 0 {
		return nil, statusErr("update contact", http.StatusNotFound)
	}
	if s.emailTaken(c.Email, id) {
		return nil, statusErr("update contact", http.StatusConflict)
	}
	c.ID = id
	c.PendingSync = false
	c.CreatedAt = s.contacts[i].CreatedAt
	s.contacts[i] = c
	return &c, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hit("delete"); err != nil {
		return err
	}
	i := s.indexOf(id)
	if i < 0 {
		return statusErr("delete contact", http.StatusNotFound)
	}
	s.contacts = append(s.contacts[:i], s.contacts[i+1:]...)
	return nil
}

// fakeConn is a connectivity state driven by the test.
type fakeConn struct {
	mu     sync.Mutex
	online bool
	events chan connectivity.Event
}

func newFakeConn(online bool) *fakeConn {
	return &fakeConn{online: online, events: make(chan connectivity.Event, 8)}
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online == online {
		return
	}
	c.online = online
	ev := connectivity.BecameOffline
	if online {
		ev = connectivity.BecameOnline
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *fakeConn) Subscribe() <-chan connectivity.Event { return c.events }

type fakeGenerator func(ctx context.Context, count int) ([]domain.Contact, error)

func (f fakeGenerator) Generate(ctx context.Context, count int) ([]domain.Contact, error) {
	return f(ctx, count)
}

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine *Engine
	store  *fakeStore
	conn   *fakeConn
	local  *localstore.Store
	path   string
	opts   Options
}

func newHarness(t *testing.T, online bool, opts Options, seed ...domain.Contact) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	local, err := localstore.Open(path, zerolog.Nop())
	require.NoError(t, err)

	h := &harness{store: newFakeStore(seed...), conn: newFakeConn(online), local: local, path: path}
	if opts.ReloadDelay == 0 {
		opts.ReloadDelay = time.Hour
	}
	opts.Logger = zerolog.Nop()
	opts.Now = func() time.Time { return fixedNow }
	h.opts = opts
	h.engine = New(h.store, local.Cache(), local.PendingLog(), h.conn, opts)
	t.Cleanup(func() {
		h.engine.Close()
		h.local.Close()
	})
	return h
}

// restart closes the engine and the state file, then wires a fresh engine
// on the same file, as a new client process would.
func (h *harness) restart(t *testing.T) {
	t.Helper()
	h.engine.Close()
	require.NoError(t, h.local.Close())

	local, err := localstore.Open(h.path, zerolog.Nop())
	require.NoError(t, err)
	h.local = local
	h.engine = New(h.store, local.Cache(), local.PendingLog(), h.conn, h.opts)
}

func (h *harness) cached(t *testing.T, id string) domain.Contact {
	t.Helper()
	contacts := h.local.Cache().Load()
	idx, ok := find(contacts, id)
	require.True(t, ok, "contact %s not cached", id)
	return contacts[idx]
}

func person(first, email string) domain.Contact {
	return domain.Contact{Name: domain.Name{First: first, Last: "Doe"}, Email: email}
}

func stored(id, first, email string) domain.Contact {
	c := person(first, email)
	c.ID = id
	return c
}

func form(first, email string) Form {
	return Form{Name: domain.Name{First: first, Last: "Doe"}, Email: email}
}
