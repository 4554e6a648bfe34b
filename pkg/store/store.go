// Package store keeps the dashboard's in-memory copy of each API resource.
//
// A [Store] owns one collection (blogs, services, workshops, reviews,
// contacts) and the record currently open in a form; [SettingsStore] owns the
// singleton site settings. Both commit state only after a successful server
// response, keep Loading true while any of their requests is in flight, and
// record the message of every failure in Error before returning it.
//
// Operations on one store are not serialized. Two updates of the same record
// race and the last response to arrive wins.
package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/pkg/connection"
	"github.com/programshouse/medicaldash/pkg/models"
)

// Doer sends API requests.
type Doer interface {
	Do(ctx context.Context, r *connection.Request) (*connection.Response, error)
}

// State is a snapshot of a store.
type State struct {
	Items   []models.Record
	Current models.Record
	Loading bool
	Error   string
}

// base holds the state shared by Store and SettingsStore.
type base struct {
	name   string
	conn   Doer
	logger zerolog.Logger

	mu       sync.RWMutex
	items    []models.Record
	current  models.Record
	inflight int
	err      string

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

func (b *base) init(name string, conn Doer, logger zerolog.Logger) {
	b.name = name
	b.conn = conn
	b.logger = logger.With().Str("store", name).Logger()
	b.subs = make(map[int]func(State))
}

// State returns a copy of the store state.
func (b *base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot()
}

func (b *base) snapshot() State {
	st := State{
		Current: b.current.Clone(),
		Loading: b.inflight > 0,
		Error:   b.err,
	}
	if b.items != nil {
		st.Items = make([]models.Record, len(b.items))
		for i, rec := range b.items {
			st.Items[i] = rec.Clone()
		}
	}
	return st
}

// Items returns a copy of the collection.
func (b *base) Items() []models.Record {
	return b.State().Items
}

// Current returns the record last fetched, created or updated, or nil.
func (b *base) Current() models.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current.Clone()
}

func (b *base) Loading() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.inflight > 0
}

func (b *base) Err() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that changed the state and must not block.
func (b *base) Subscribe(fn func(State)) (cancel func()) {
	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
		})
	}
}

func (b *base) ClearError() {
	b.update(func() { b.err = "" })
}

func (b *base) ClearCurrent() {
	b.update(func() { b.current = nil })
}

// Reset drops every cached record and the last error. Requests in flight
// keep Loading set until they finish.
func (b *base) Reset() {
	b.update(func() {
		b.items = nil
		b.current = nil
		b.err = ""
	})
}

func (b *base) begin() {
	b.update(func() {
		b.inflight++
		b.err = ""
	})
}

func (b *base) end() {
	b.update(func() { b.inflight-- })
}

// fail records err as the store error and returns it.
func (b *base) fail(op string, err error) error {
	b.logger.Warn().Err(err).Str("op", op).Msg("store operation failed")
	b.update(func() { b.err = err.Error() })
	return err
}

// commit applies fn unless ctx was abandoned while the request was in flight.
func (b *base) commit(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		b.logger.Debug().Err(err).Msg("discarding result of abandoned request")
		return err
	}
	b.update(fn)
	return nil
}

func (b *base) update(fn func()) {
	b.mu.Lock()
	fn()
	st := b.snapshot()
	b.mu.Unlock()
	b.publish(st)
}

func (b *base) publish(st State) {
	b.subMu.Lock()
	fns := make([]func(State), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// indexOf returns the position of the first record with id, or -1.
func indexOf(items []models.Record, id any) int {
	for i, rec := range items {
		if models.SameID(rec.ID(), id) {
			return i
		}
	}
	return -1
}

func without(items []models.Record, id any) []models.Record {
	out := items[:0:0]
	for _, rec := range items {
		if !models.SameID(rec.ID(), id) {
			out = append(out, rec)
		}
	}
	return out
}
