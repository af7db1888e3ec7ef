package localstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/tbourn/go-contacts/internal/domain"
)

// OperationIDPrefix marks ids of queued operations.
const OperationIDPrefix = "op_"

// PendingLog is the ordered list of mutations the store has not confirmed.
// Records are appended once and removed once replayed. The only edit in
// between is Reassign, once the store has given an offline contact its id.
type PendingLog struct {
	store *Store
	log   zerolog.Logger

	mu sync.Mutex
}

// Append queues op for contact with a fresh id, the current time and a zero
// retry count.
func (p *PendingLog) Append(op domain.Operation, contact domain.Contact) {
	rec := domain.PendingOperation{
		ID:        OperationIDPrefix + ksuid.New().String(),
		Operation: op,
		Data:      contact,
		Timestamp: time.Now().UTC(),
	}
	rec.Data.PendingSync = false

	p.mu.Lock()
	defer p.mu.Unlock()

	ops := p.load()
	ops = append(ops, rec)
	p.persist(ops)
	p.log.Debug().Str("op_id", rec.ID).Str("operation", string(op)).Str("contact_id", contact.ID).Int("pending", len(ops)).Msg("queued operation")
}

// Operations returns the queued records in insertion order.
func (p *PendingLog) Operations() []domain.PendingOperation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// Len returns the number of queued records.
func (p *PendingLog) Len() int {
	return len(p.Operations())
}

// DrainAndReplay calls apply for every queued record, one at a time and in
// insertion order. A failing record does not stop the pass. Afterwards the
// log is rewritten once without the records that succeeded; records
// appended while the pass was running are kept. It returns how many
// records were removed.
//
// A cancelled ctx stops the pass early; unvisited records stay queued.
func (p *PendingLog) DrainAndReplay(ctx context.Context, apply func(context.Context, domain.PendingOperation) error) int {
	snapshot := p.Operations()
	if len(snapshot) == 0 {
		return 0
	}

	done := make(map[string]struct{}, len(snapshot))
	for _, rec := range snapshot {
		if ctx.Err() != nil {
			break
		}
		if err := apply(ctx, rec); err != nil {
			p.log.Warn().Err(err).Str("op_id", rec.ID).Str("operation", string(rec.Operation)).Msg("replay failed, keeping operation")
			continue
		}
		done[rec.ID] = struct{}{}
	}
	if len(done) == 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.load()
	kept := current[:0]
	for _, rec := range current {
		if _, ok := done[rec.ID]; !ok {
			kept = append(kept, rec)
		}
	}
	p.persist(kept)
	return len(current) - len(kept)
}

// Reassign points every queued UPDATE and DELETE for contact from at to
// and persists the result before returning. CREATE records keep their id,
// since it is also their idempotency key. It returns how many records
// changed.
func (p *PendingLog) Reassign(from, to string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	ops := p.load()
	changed := 0
	for i := range ops {
		if ops[i].Operation == domain.OperationCreate || ops[i].Data.ID != from {
			continue
		}
		ops[i].Data.ID = to
		changed++
	}
	if changed > 0 {
		p.persist(ops)
		p.log.Debug().Str("from", from).Str("to", to).Int("records", changed).Msg("reassigned queued operations")
	}
	return changed
}

// load reads the slot; p.mu must be held.
func (p *PendingLog) load() []domain.PendingOperation {
	raw, err := p.store.read(pendingKey)
	if err != nil {
		p.log.Error().Err(err).Msg("reading pending operations")
		return []domain.PendingOperation{}
	}
	if len(raw) == 0 {
		return []domain.PendingOperation{}
	}
	var ops []domain.PendingOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		p.log.Error().Err(err).Msg("pending operations are corrupt, starting empty")
		return []domain.PendingOperation{}
	}
	if ops == nil {
		ops = []domain.PendingOperation{}
	}
	return ops
}

// persist overwrites the slot; p.mu must be held.
func (p *PendingLog) persist(ops []domain.PendingOperation) {
	raw, err := json.Marshal(ops)
	if err != nil {
		p.log.Error().Err(err).Msg("encoding pending operations")
		return
	}
	if err := p.store.write(pendingKey, raw); err != nil {
		p.log.Error().Err(err).Int("pending", len(ops)).Msg("writing pending operations")
	}
}
