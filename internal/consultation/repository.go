package consultation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s Session) error
	GetByID(ctx context.Context, id uuid.UUID) (Session, error)
	// Update gives fn exclusive access to the session and stores its result
	// when fn returns no error.
	Update(ctx context.Context, id uuid.UUID, fn func(Session) (Session, error)) (Session, error)
}

// MemoryRepository keeps sessions in process memory. Sessions idle for longer
// than the TTL are dropped by Sweep.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	ttl     time.Duration
	now     func() time.Time
}

type entry struct {
	mu      sync.Mutex
	sess    Session
	removed bool // set by Sweep under mu

	lastSeen time.Time // guarded by MemoryRepository.mu
}

func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &MemoryRepository{
		entries: make(map[uuid.UUID]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = &entry{sess: s, lastSeen: r.now()}
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (Session, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, ErrSessionNotFound
	}
	return e.sess, nil
}

// Update does not store the result of fn once ctx is done, so a request that
// timed out leaves the session as it was.
func (r *MemoryRepository) Update(ctx context.Context, id uuid.UUID, fn func(Session) (Session, error)) (Session, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return r.apply(ctx, e, fn)
}

func (r *MemoryRepository) apply(ctx context.Context, e *entry, fn func(Session) (Session, error)) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, ErrSessionNotFound
	}

	next, err := fn(e.sess)
	r.touch(e)
	if err != nil {
		return e.sess, err
	}
	if err := ctx.Err(); err != nil {
		return e.sess, err
	}
	e.sess = next
	return next, nil
}

// Sweep removes expired sessions and returns how many were dropped. Sessions
// with an action in flight are left alone.
func (r *MemoryRepository) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.lastSeen) > r.ttl {
			e.removed = true
			delete(r.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (r *MemoryRepository) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// lookup returns the entry and marks it as seen.
func (r *MemoryRepository) lookup(id uuid.UUID) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		e.lastSeen = r.now()
	}
	return e, ok
}

func (r *MemoryRepository) touch(e *entry) {
	r.mu.Lock()
	e.lastSeen = r.now()
	r.mu.Unlock()
}
