// Package tiered provides a Hot/Cold tiered storage adapter that layers a
// fast ephemeral cache (Hot) over durable persistent storage (Cold).
// Reads go hot-first with cold fallback; writes always land in cold as the
// source of truth and are mirrored into hot afterwards.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Redis, Memory) for snapshot reads
	Hot subledger.Storage

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) as the source of truth
	Cold subledger.Storage

	// AsyncCacheSync enables non-blocking cache mirroring after writes.
	// If false, the hot tier is updated synchronously before returning.
	AsyncCacheSync bool

	// SyncBufferSize is the size of the buffered channel for async mirroring.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when cache mirroring fails.
	// Essential for monitoring consistency drift between tiers.
	AsyncErrorHandler func(error)
}

// Storage implements subledger.Storage over a Hot/Cold pair.
// Reconciliation writes are never applied to the hot tier directly: the cold
// result overwrites the cached record, so the cache can lag but never fork.
type Storage struct {
	hot  subledger.Storage
	cold subledger.Storage
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncCacheSync {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncCacheSync {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background mirroring loop.
// Sequential processing preserves causal ordering per user.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					s.reportError(fmt.Errorf("tiered cache sync failed: %w", err))
				}
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) reportError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// GetRecord implements subledger.Storage with a read-through strategy
func (s *Storage) GetRecord(ctx context.Context, userID string) (*subledger.SubscriptionRecord, error) {
	rec, err := s.hot.GetRecord(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, subledger.ErrRecordNotFound) {
		// Hot tier failure degrades to cold reads rather than erroring
		s.reportError(fmt.Errorf("tiered hot read failed: %w", err))
	}

	rec, err = s.cold.GetRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mirror(userID, rec)
	return rec, nil
}

// UpdateRecord implements subledger.Storage with a write-through strategy.
// The apply callback runs against the cold tier only; the hot tier receives
// the committed result.
func (s *Storage) UpdateRecord(ctx context.Context, userID string,
	apply func(existing *subledger.SubscriptionRecord) (*subledger.SubscriptionRecord, error),
) (*subledger.SubscriptionRecord, error) {
	rec, err := s.cold.UpdateRecord(ctx, userID, apply)
	if err != nil {
		return nil, err
	}

	s.mirror(userID, rec)
	return rec, nil
}

// mirror overwrites the hot-tier copy with a committed cold-tier record
func (s *Storage) mirror(userID string, rec *subledger.SubscriptionRecord) {
	committed := rec.Clone()
	job := func() error {
		_, err := s.hot.UpdateRecord(context.Background(), userID,
			func(*subledger.SubscriptionRecord) (*subledger.SubscriptionRecord, error) {
				return committed.Clone(), nil
			})
		return err
	}

	if !s.conf.AsyncCacheSync {
		if err := job(); err != nil {
			s.reportError(fmt.Errorf("tiered cache sync failed: %w", err))
		}
		return
	}

	select {
	case s.syncQueue <- job:
	default:
		s.reportError(errors.New("tiered sync queue full, dropping cache update"))
	}
}
