package repository

import (
	"context"
	"math"
	"sync"
	"time"

	"slotguard/internal/models"

	"golang.org/x/time/rate"
)

// MemoryCounterStore is the per-process fallback limiter. Each identity owns a
// token bucket per window, refilled at limit/window with a burst of limit, so
// counts are approximate and reset on restart.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[string]*bucketPair
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type bucketPair struct {
	limits   models.Limits
	minute   *rate.Limiter
	hour     *rate.Limiter
	lastSeen time.Time
}

type MemoryOption func(*MemoryCounterStore)

func WithIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryCounterStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:      make(map[string]*bucketPair),
		idleTTL:      2 * time.Hour,
		cleanupEvery: 5 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newBucket(limit int, window time.Duration) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
}

func (s *MemoryCounterStore) Consume(_ context.Context, identity string, limits models.Limits, cost int) (*models.LimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	pair, ok := s.entries[identity]
	if !ok || pair.limits != limits {
		pair = &bucketPair{
			limits: limits,
			minute: newBucket(limits.PerMinute, time.Minute),
			hour:   newBucket(limits.PerHour, time.Hour),
		}
		s.entries[identity] = pair
	}
	pair.lastSeen = now

	for _, scope := range []models.LimitScope{models.ScopeMinute, models.ScopeHour} {
		bucket := pair.bucket(scope)
		if bucket == nil {
			continue
		}
		tokens := bucket.TokensAt(now)
		if tokens >= float64(cost) {
			continue
		}
		wait := time.Duration((float64(cost) - tokens) / float64(bucket.Limit()) * float64(time.Second))
		return &models.LimitResult{
			Allowed:           false,
			RemainingMinute:   pair.remaining(models.ScopeMinute, now),
			RemainingHour:     pair.remaining(models.ScopeHour, now),
			Scope:             scope,
			RetryAfterSeconds: retryAfter(wait, scope.Window()),
		}, nil
	}

	if pair.minute != nil {
		pair.minute.AllowN(now, cost)
	}
	if pair.hour != nil {
		pair.hour.AllowN(now, cost)
	}
	return &models.LimitResult{
		Allowed:         true,
		RemainingMinute: pair.remaining(models.ScopeMinute, now),
		RemainingHour:   pair.remaining(models.ScopeHour, now),
	}, nil
}

func (p *bucketPair) bucket(scope models.LimitScope) *rate.Limiter {
	if scope == models.ScopeHour {
		return p.hour
	}
	return p.minute
}

func (p *bucketPair) remaining(scope models.LimitScope, now time.Time) int {
	b := p.bucket(scope)
	if b == nil {
		return -1
	}
	return int(math.Max(0, math.Floor(b.TokensAt(now))))
}

// Cleanup drops identities not seen within the idle TTL.
func (s *MemoryCounterStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is cancelled.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

func (s *MemoryCounterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MemoryIdempotencyStore is the single-process idempotency store used when
// Redis is not configured.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	record    models.IdempotencyRecord
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

// lookup returns the live entry for key, dropping it if expired. Callers hold mu.
func (s *MemoryIdempotencyStore) lookup(key string) (memoryRecord, bool) {
	entry, ok := s.records[key]
	if !ok {
		return memoryRecord{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.records, key)
		return memoryRecord{}, false
	}
	return entry, true
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	record := entry.record
	return &record, nil
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, record *models.IdempotencyRecord, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(record.Key); ok {
		return false, nil
	}
	s.records[record.Key] = memoryRecord{record: *record, expiresAt: s.now().Add(lease)}
	return true, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, record *models.IdempotencyRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.Key] = memoryRecord{record: *record, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(key)
	if ok && entry.record.State == models.IdempotencyPending && entry.record.Token == token {
		delete(s.records, key)
	}
	return nil
}
