package submission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	platformredis "facturador/internal/platform/redis"
)

// Locker serializes scheduler drains across replicas. TryLock returns an
// unlock func only when the lock was won.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// RedisLocker implements Locker with SET NX. Lock loss on TTL expiry is
// tolerable: the idempotency key makes a double dispatch harmless.
type RedisLocker struct {
	client *platformredis.Client
}

func NewRedisLocker(client *platformredis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		l.client.Del(context.Background(), key)
	}
	return unlock, true, nil
}

// LocalLocker is the single-process fallback when Redis is not configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	unlock := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}
	return unlock, true, nil
}

const (
	drainLockKey = "facturador:submission:drain"
	drainLockTTL = 5 * time.Minute

	// A record older than this in SENT was abandoned mid-dispatch; every
	// live dispatch finishes within submitTimeout.
	stuckSentAfter = 2 * submitTimeout
)

// Scheduler periodically drains due submission records through the
// coordinator. One drain runs at a time cluster-wide; replicas that lose the
// lock skip the tick.
type Scheduler struct {
	coordinator *Coordinator
	subs        Store
	locker      Locker
	interval    time.Duration
	batchSize   int
	logger      *slog.Logger
}

func NewScheduler(coordinator *Coordinator, subs Store, locker Locker, interval time.Duration, batchSize int, logger *slog.Logger) *Scheduler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		coordinator: coordinator,
		subs:        subs,
		locker:      locker,
		interval:    interval,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Run drains until ctx is cancelled. One immediate drain on startup picks up
// records left PENDING by a previous process.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// Drain processes one batch of due records. Exported for facturactl and
// tests; Run calls it on every tick. Before picking up due records it
// requeues submissions stranded in SENT by a crash, so no record is ever
// silently dropped from the retry loop.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	now := time.Now()
	if requeued, err := s.subs.RequeueStuck(ctx, now.Add(-stuckSentAfter)); err != nil {
		s.logger.Error("requeue of stranded submissions failed", "err", err)
	} else if requeued > 0 {
		s.logger.Warn("requeued submissions stranded mid-dispatch", "count", requeued)
	}

	due, err := s.subs.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		if err := s.coordinator.Dispatch(ctx, rec); err != nil {
			s.logger.Error("submission dispatch failed", "submission", rec.ID, "invoice", rec.InvoiceID, "err", err)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (s *Scheduler) drain(ctx context.Context) {
	unlock, ok, err := s.locker.TryLock(ctx, drainLockKey, drainLockTTL)
	if err != nil {
		s.logger.Warn("submission drain lock unavailable", "err", err)
		return
	}
	if !ok {
		return
	}
	defer unlock()

	n, err := s.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("submission drain failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("submission drain complete", "dispatched", n)
	}
}
