package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutboxStore is the subset of outbox behavior the streamer needs. PGOutbox
// implements it; tests substitute a fake.
type OutboxStore interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkStreamResult(ctx context.Context, id uuid.UUID, archivedKey sql.NullString, ok bool, errMsg sql.NullString) error
}

// StreamerConfig configures the durable DB-first streamer.
type StreamerConfig struct {
	// How many events to fetch per claim.
	BatchSize int

	// PollInterval when there is no work (or after a batch).
	PollInterval time.Duration

	// MaxConcurrency bounds concurrent processing of claimed events.
	MaxConcurrency int
}

// Streamer drains the notification outbox: it claims pending events, produces
// each envelope to Kafka, archives terminal decisions to object storage, and
// records the result on the row so retries are driven from the DB. Delivery
// is at-least-once; consumers must tolerate replays.
type Streamer struct {
	outbox   OutboxStore
	producer Producer
	archiver Archiver
	cfg      StreamerConfig

	wg sync.WaitGroup
}

// NewStreamer constructs a streamer. Zero cfg fields get sensible defaults.
func NewStreamer(outbox OutboxStore, producer Producer, archiver Archiver, cfg StreamerConfig) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	return &Streamer{
		outbox:   outbox,
		producer: producer,
		archiver: archiver,
		cfg:      cfg,
	}
}

// Run blocks until ctx is cancelled, polling for pending work and processing
// batches with bounded concurrency. Safe to run in a goroutine.
func (s *Streamer) Run(ctx context.Context) error {
	log.Printf("[notify.streamer] starting (batch=%d, concurrency=%d)", s.cfg.BatchSize, s.cfg.MaxConcurrency)
	defer log.Printf("[notify.streamer] stopped")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return ctx.Err()
		default:
		}

		events, err := s.outbox.FetchPendingEvents(ctx, s.cfg.BatchSize)
		if err != nil {
			log.Printf("[notify.streamer] fetch pending: %v", err)
			// backoff to avoid a tight loop on transient DB problems
			time.Sleep(s.cfg.PollInterval)
			continue
		}

		if len(events) == 0 {
			time.Sleep(s.cfg.PollInterval)
			continue
		}

		for _, ev := range events {
			sem <- struct{}{}
			s.wg.Add(1)
			go func(ev *Event) {
				defer func() {
					<-sem
					s.wg.Done()
				}()
				if err := s.processEvent(ctx, ev); err != nil {
					// processEvent already records the DB result; just log.
					log.Printf("[notify.streamer] process event %s: %v", ev.ID, err)
				}
			}(ev)
		}

		// Drain the batch before claiming more, keeping the claim windows
		// bounded and non-overlapping.
		for i := 0; i < s.cfg.MaxConcurrency; i++ {
			sem <- struct{}{}
		}
		for i := 0; i < s.cfg.MaxConcurrency; i++ {
			<-sem
		}
	}
}

// processEvent produces one envelope and, for terminal decisions, archives it.
// The result lands back on the outbox row either way.
func (s *Streamer) processEvent(parentCtx context.Context, ev *Event) error {
	// Per-event deadline so a stuck broker cannot wedge a worker slot.
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	producedAt, err := s.producer.Produce(ctx, []byte(ev.ID.String()), ev.Payload)
	if err != nil {
		errMsg := sql.NullString{String: fmt.Sprintf("kafka produce: %v", err), Valid: true}
		_ = s.outbox.MarkStreamResult(parentCtx, ev.ID, sql.NullString{}, false, errMsg)
		return fmt.Errorf("kafka produce: %w", err)
	}

	var archivedKey sql.NullString
	if s.archiver != nil && ev.Type.Terminal() {
		key, err := s.archiver.ArchiveEvent(ctx, ev)
		if err != nil {
			errMsg := sql.NullString{String: fmt.Sprintf("archive: %v", err), Valid: true}
			_ = s.outbox.MarkStreamResult(parentCtx, ev.ID, sql.NullString{}, false, errMsg)
			return fmt.Errorf("archive: %w", err)
		}
		archivedKey = sql.NullString{String: key, Valid: true}
	}

	if err := s.outbox.MarkStreamResult(parentCtx, ev.ID, archivedKey, true, sql.NullString{}); err != nil {
		// The row stays claimed; the failure surfaces here and the event will
		// be retried once an operator resets it or the row times out.
		return fmt.Errorf("mark event stream success: %w", err)
	}

	log.Printf("[notify.streamer] event %s streamed: produced_at=%s archived=%v",
		ev.ID, producedAt.Format(time.RFC3339Nano), archivedKey.Valid)
	return nil
}
