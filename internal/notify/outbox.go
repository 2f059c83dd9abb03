package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/procurehub/approvald/internal/models"
)

// Event is one row of the notification outbox. The DB is the source of truth
// for delivery retries: the streamer claims pending rows and records the
// produce/archive result back on the row.
type Event struct {
	ID        uuid.UUID
	Type      models.EventType
	OrderID   int64
	ActorID   int64
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// PGOutbox stores notification events in Postgres and doubles as the
// processors' dispatcher: Notify inserts a pending row after a decision
// commits.
type PGOutbox struct {
	db *sql.DB
}

func NewPGOutbox(db *sql.DB) *PGOutbox {
	return &PGOutbox{db: db}
}

// Notify enqueues a notification event. It is best-effort on purpose: the
// approval already committed, so failures are logged and swallowed. The
// streamer never sees rows that failed to insert; operators do, in the log.
func (o *PGOutbox) Notify(ctx context.Context, n models.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("[notify.outbox] marshal event for order %d: %v", n.OrderID, err)
		return
	}
	query := `
		INSERT INTO notification_events (id, event_type, order_id, actor_id, payload, stream_status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6)
	`
	if _, err := o.db.ExecContext(ctx, query, n.ID, n.Type, n.OrderID, n.ActorID, payload, n.CreatedAt); err != nil {
		log.Printf("[notify.outbox] enqueue %s for order %d: %v", n.Type, n.OrderID, err)
	}
}

// FetchPendingEvents claims up to limit pending events for streaming. The
// claim runs in one transaction with SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent streamers never double-claim, then flips the claimed rows to
// in_progress and bumps attempts.
func (o *PGOutbox) FetchPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, event_type, order_id, actor_id, payload, attempts, created_at
		FROM notification_events
		WHERE stream_status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending events: %w", err)
	}

	var events []*Event
	var ids []uuid.UUID
	for rows.Next() {
		var (
			ev      Event
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.OrderID, &ev.ActorID, &payload, &ev.Attempts, &ev.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		ev.Payload = append(json.RawMessage(nil), payload...)
		events = append(events, &ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("pending events rows err: %w", err)
	}
	rows.Close()

	if len(events) == 0 {
		return nil, tx.Commit()
	}

	claimQuery := `
		UPDATE notification_events
		SET stream_status = 'in_progress', attempts = attempts + 1
		WHERE id = ANY($1)
	`
	if _, err := tx.ExecContext(ctx, claimQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return events, nil
}

// MarkStreamResult records the produce/archive outcome for a claimed event.
// Failed rows go back to pending so the next poll retries them.
func (o *PGOutbox) MarkStreamResult(ctx context.Context, id uuid.UUID, archivedKey sql.NullString, ok bool, errMsg sql.NullString) error {
	var query string
	if ok {
		query = `
			UPDATE notification_events
			SET stream_status = 'done', streamed_at = NOW(), archived_key = $2, last_error = NULL
			WHERE id = $1
		`
		if _, err := o.db.ExecContext(ctx, query, id, archivedKey); err != nil {
			return fmt.Errorf("mark event done: %w", err)
		}
		return nil
	}
	query = `
		UPDATE notification_events
		SET stream_status = 'pending', last_error = $2
		WHERE id = $1
	`
	if _, err := o.db.ExecContext(ctx, query, id, errMsg); err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}
