// Package store holds finished task outcomes for the runtime.
//
// Entries expire a fixed TTL after they were produced and are evicted oldest
// first when the memory budget is exceeded. Reads never refresh an entry.
package store

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/utkarsh5026/offload/internal/types"
)

// EvictReason tells an eviction observer why an entry left the store.
type EvictReason int

const (
	EvictExpired EvictReason = iota
	EvictMemory
)

func (r EvictReason) String() string {
	if r == EvictMemory {
		return "memory"
	}
	return "expired"
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the time-to-live of stored outcomes. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithMemoryLimit sets the budget, in bytes, for stored outcome payloads.
func WithMemoryLimit(bytes int64) Option {
	return func(s *Store) {
		if bytes > 0 {
			s.limit = bytes
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithEvictHook registers a callback invoked (without the lock held) for
// each evicted or expired entry.
func WithEvictHook(fn func(id string, reason EvictReason)) Option {
	return func(s *Store) {
		s.onEvict = fn
	}
}

type entry struct {
	outcome types.Outcome
	elem    *list.Element
}

type eviction struct {
	id     string
	reason EvictReason
}

// Store is a thread-safe map from task id to outcome.
//
// Ids move through two states: pending (accepted, not finished) and stored.
// The order list holds stored ids oldest first; because ProducedAt is stamped
// under the lock, list order and ProducedAt order agree.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	pending  map[string]struct{}
	order    *list.List
	used     int64
	limit    int64
	ttl      time.Duration
	now      func() time.Time
	watchers map[string][]chan struct{}
	onEvict  func(id string, reason EvictReason)
	log      *zap.Logger
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]*entry),
		pending:  make(map[string]struct{}),
		order:    list.New(),
		limit:    1 << 30,
		now:      time.Now,
		watchers: make(map[string][]chan struct{}),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkPending records id as accepted but not yet complete, so Get reports
// Processing instead of NotFound.
func (s *Store) MarkPending(id string) {
	s.mu.Lock()
	s.pending[id] = struct{}{}
	s.mu.Unlock()
}

// Forget drops a pending id without storing an outcome, e.g. when the
// submission was rejected after being marked.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.notifyLocked(id)
	s.mu.Unlock()
}

// Put stores outcome, stamping ProducedAt, then evicts the oldest entries
// while the memory budget is exceeded. The new entry is only evicted once
// nothing older remains.
func (s *Store) Put(outcome types.Outcome) {
	s.mu.Lock()
	evicted := s.putLocked(outcome)
	s.mu.Unlock()

	s.report(evicted)
}

// Settle stores outcome only while its id is still pending and reports
// whether it did. Workers use it so that outcomes of tasks dropped by
// ClearAll or Forget do not reappear.
func (s *Store) Settle(outcome types.Outcome) bool {
	s.mu.Lock()
	if !s.isPendingLocked(outcome.TaskID) {
		s.mu.Unlock()
		return false
	}
	evicted := s.putLocked(outcome)
	s.mu.Unlock()

	s.report(evicted)
	return true
}

func (s *Store) putLocked(outcome types.Outcome) []eviction {
	var evicted []eviction

	if old, ok := s.entries[outcome.TaskID]; ok {
		s.removeLocked(outcome.TaskID, old)
	}
	delete(s.pending, outcome.TaskID)

	outcome.ProducedAt = s.now()
	if outcome.Size == 0 {
		outcome.Size = len(outcome.Payload) + len(outcome.Err)
	}

	e := &entry{outcome: outcome}
	e.elem = s.order.PushBack(outcome.TaskID)
	s.entries[outcome.TaskID] = e
	s.used += int64(outcome.Size)

	for s.used > s.limit && s.order.Len() > 0 {
		front := s.order.Front()
		id, _ := front.Value.(string)
		s.removeLocked(id, s.entries[id])
		evicted = append(evicted, eviction{id: id, reason: EvictMemory})
	}
	s.notifyLocked(outcome.TaskID)
	return evicted
}

// Get returns the outcome stored for id.
//
// A pending id yields an Outcome with StatusProcessing and a nil error. An id
// that was never issued, has expired, or was evicted yields ErrNotFound.
func (s *Store) Get(id string) (types.Outcome, error) {
	var evicted []eviction

	s.mu.Lock()
	e, ok := s.entries[id]
	if ok && s.expiredLocked(e) {
		s.removeLocked(id, e)
		evicted = append(evicted, eviction{id: id, reason: EvictExpired})
		ok = false
	}
	var (
		out types.Outcome
		err error
	)
	switch {
	case ok:
		out = e.outcome
	case s.isPendingLocked(id):
		out = types.Outcome{TaskID: id, Status: types.StatusProcessing}
	default:
		err = types.ErrNotFound
	}
	s.mu.Unlock()

	s.report(evicted)
	return out, err
}

// Watch returns a channel closed the next time id is stored, forgotten or
// cleared. Callers re-check with Get after it fires.
func (s *Store) Watch(id string) <-chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok || !s.isPendingLocked(id) {
		close(ch)
		return ch
	}
	s.watchers[id] = append(s.watchers[id], ch)
	return ch
}

// Unwatch withdraws a channel returned by Watch that the caller stopped
// waiting on. It is a no-op once the channel has fired.
func (s *Store) Unwatch(id string, ch <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.watchers[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.watchers, id)
		return
	}
	s.watchers[id] = list
}

// ClearAll removes every stored and pending entry immediately.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	s.pending = make(map[string]struct{})
	s.order.Init()
	s.used = 0
	for id := range s.watchers {
		s.notifyLocked(id)
	}
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *Store) Sweep() int {
	if s.ttl == 0 {
		return 0
	}

	var evicted []eviction
	s.mu.Lock()
	for elem := s.order.Front(); elem != nil; {
		id, _ := elem.Value.(string)
		e := s.entries[id]
		if !s.expiredLocked(e) {
			// order is by ProducedAt, so everything after is fresher
			break
		}
		elem = elem.Next()
		s.removeLocked(id, e)
		evicted = append(evicted, eviction{id: id, reason: EvictExpired})
	}
	s.mu.Unlock()

	s.report(evicted)
	return len(evicted)
}

// Len returns the number of stored outcomes, including expired entries not
// yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PendingLen returns the number of accepted tasks without an outcome.
func (s *Store) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// MemoryUsed returns the total size of stored outcomes in bytes.
func (s *Store) MemoryUsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// MemoryLimit returns the configured budget in bytes.
func (s *Store) MemoryLimit() int64 {
	return s.limit
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) isPendingLocked(id string) bool {
	_, ok := s.pending[id]
	return ok
}

func (s *Store) expiredLocked(e *entry) bool {
	if s.ttl == 0 || e == nil {
		return false
	}
	return s.now().Sub(e.outcome.ProducedAt) >= s.ttl
}

func (s *Store) removeLocked(id string, e *entry) {
	if e == nil {
		return
	}
	s.order.Remove(e.elem)
	delete(s.entries, id)
	s.used -= int64(e.outcome.Size)
}

func (s *Store) notifyLocked(id string) {
	for _, ch := range s.watchers[id] {
		close(ch)
	}
	delete(s.watchers, id)
}

func (s *Store) report(evicted []eviction) {
	for _, ev := range evicted {
		s.log.Debug("outcome evicted",
			zap.String("task_id", ev.id),
			zap.Stringer("reason", ev.reason))
		if s.onEvict != nil {
			s.onEvict(ev.id, ev.reason)
		}
	}
}
