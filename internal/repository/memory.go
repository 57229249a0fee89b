package repository

import (
	"context"
	"sync"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/models"
)

type typingEntry struct {
	memberUntil  time.Time
	supportUntil time.Time
}

func (e *typingEntry) expired(now time.Time) bool {
	return !now.Before(e.memberUntil) && !now.Before(e.supportUntil)
}

// MemoryTypingRepository keeps typing flags per support thread for one process.
// Expired threads are swept on every read.
type MemoryTypingRepository struct {
	mu      sync.Mutex
	threads map[string]*typingEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryTypingRepository(ttl time.Duration) *MemoryTypingRepository {
	if ttl <= 0 {
		ttl = models.TypingTTL
	}
	return &MemoryTypingRepository{
		threads: make(map[string]*typingEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *MemoryTypingRepository) SetTyping(ctx context.Context, threadID, role string, typing bool) error {
	if err := validateTyping(threadID, role); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.threads[threadID]
	if !ok {
		entry = &typingEntry{}
		r.threads[threadID] = entry
	}

	var until time.Time
	if typing {
		until = r.now().Add(r.ttl)
	}
	if role == models.RoleMember {
		entry.memberUntil = until
	} else {
		entry.supportUntil = until
	}

	if entry.expired(r.now()) {
		delete(r.threads, threadID)
	}
	return nil
}

func (r *MemoryTypingRepository) GetTyping(ctx context.Context, threadID string) (models.TypingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)

	entry, ok := r.threads[threadID]
	if !ok {
		return models.TypingState{}, nil
	}
	return models.TypingState{
		Member:  now.Before(entry.memberUntil),
		Support: now.Before(entry.supportUntil),
	}, nil
}

// sweep drops threads where neither side is typing. Callers hold r.mu.
func (r *MemoryTypingRepository) sweep(now time.Time) {
	for id, entry := range r.threads {
		if entry.expired(now) {
			delete(r.threads, id)
		}
	}
}

// Len reports how many threads currently hold a live flag.
func (r *MemoryTypingRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

func validateTyping(threadID, role string) error {
	if threadID == "" {
		return domain.Validationf("thread id is required")
	}
	if !models.IsValidRole(role) {
		return domain.Validationf("role must be %s or %s", models.RoleMember, models.RoleSupport)
	}
	return nil
}
