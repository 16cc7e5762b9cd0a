package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store persists one counter bucket per user. The bucket remembers
// when the user's window started; a bucket whose window has ended is
// rolled over on the next increment.
type Store interface {
	// Incr adds one request to the user's bucket. A missing bucket, or
	// one whose window ended at or before now, is replaced by a fresh
	// bucket whose window starts at now. Returns the count after the
	// increment and the bucket's window start.
	Incr(ctx context.Context, userID string, now time.Time) (int64, time.Time, error)

	// Peek returns the current count and window start without
	// incrementing. A missing or ended bucket reads as zero with a
	// zero window start.
	Peek(ctx context.Context, userID string, now time.Time) (int64, time.Time, error)

	// Sweep removes buckets whose window ended at or before now and
	// returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Entries reports how many buckets are currently held.
	Entries(ctx context.Context) (int, error)

	// ActiveUsers reports how many distinct users have a bucket whose
	// window is still live at now.
	ActiveUsers(ctx context.Context, now time.Time) (int, error)

	// Close releases store resources.
	Close() error
}

// ====== Memory Store ======

type memoryBucket struct {
	windowStart time.Time
	count       int64
}

func (b *memoryBucket) ended(now time.Time) bool {
	return !now.Before(b.windowStart.Add(Window))
}

// MemoryStore keeps counters in a mutex-guarded map. One bucket per
// user: an increment after the window ended discards the stale bucket.
type MemoryStore struct {
	buckets map[string]*memoryBucket
	mu      sync.Mutex
}

// NewMemoryStore creates an in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*memoryBucket),
	}
}

// Incr adds one request to the user's bucket, rolling the window when
// the previous one has ended.
func (s *MemoryStore) Incr(_ context.Context, userID string, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[userID]
	if !ok || b.ended(now) {
		b = &memoryBucket{windowStart: now}
		s.buckets[userID] = b
	}
	b.count++
	return b.count, b.windowStart, nil
}

// Peek returns the current count without incrementing.
func (s *MemoryStore) Peek(_ context.Context, userID string, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[userID]
	if !ok || b.ended(now) {
		return 0, time.Time{}, nil
	}
	return b.count, b.windowStart, nil
}

// Sweep removes buckets whose window ended at or before now.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, b := range s.buckets {
		if b.ended(now) {
			delete(s.buckets, userID)
			removed++
		}
	}
	return removed, nil
}

// Entries reports how many buckets are currently held.
func (s *MemoryStore) Entries(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets), nil
}

// ActiveUsers reports distinct users whose window is still live.
func (s *MemoryStore) ActiveUsers(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, b := range s.buckets {
		if !b.ended(now) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
