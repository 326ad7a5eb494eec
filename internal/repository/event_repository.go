package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

// EventRepository is the append-only document event log. It deliberately
// exposes no update or delete methods: supersession is derived at read
// time by the workflow engine.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append records one event. Seq is assigned by the sequence column so
// concurrent appends from different validators both land in order.
func (r *EventRepository) Append(ctx context.Context, event *models.Event) error {
	return r.append(ctx, r.db, event)
}

// AppendTx records one event inside the caller's transaction.
func (r *EventRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, event *models.Event) error {
	return r.append(ctx, tx, event)
}

type execQueryer interface {
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

func (r *EventRepository) append(ctx context.Context, q execQueryer, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.State == "" {
		event.State = models.EventStateActive
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	const query = `INSERT INTO document_events
	(id, document_id, verb, actor_id, actor_name, state, payload, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING seq`
	if err := q.QueryRowxContext(ctx, query,
		event.ID, event.DocumentID, event.Verb, event.ActorID, event.ActorName,
		event.State, event.Payload, event.RecordedAt,
	).Scan(&event.Seq); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// AppendBatch records the events of one logical action inside a single
// transaction, so a multi-target validation request is atomic from the
// caller's point of view.
func (r *EventRepository) AppendBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append batch: %w", err)
	}
	for _, event := range events {
		if err := r.append(ctx, tx, event); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append batch: %w", err)
	}
	return nil
}

// ListByDocument returns the document's events oldest first.
func (r *EventRepository) ListByDocument(ctx context.Context, documentID string) ([]models.Event, error) {
	const query = `SELECT id, document_id, seq, verb, actor_id, actor_name, state, payload, recorded_at
	FROM document_events WHERE document_id = $1 ORDER BY seq ASC`
	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, documentID); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// ListByDocuments loads events for several documents in one round trip,
// keyed by document id, each slice oldest first.
func (r *EventRepository) ListByDocuments(ctx context.Context, documentIDs []string) (map[string][]models.Event, error) {
	grouped := make(map[string][]models.Event, len(documentIDs))
	if len(documentIDs) == 0 {
		return grouped, nil
	}
	query, args, err := sqlx.In(`SELECT id, document_id, seq, verb, actor_id, actor_name, state, payload, recorded_at
	FROM document_events WHERE document_id IN (?) ORDER BY seq ASC`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}
	query = r.db.Rebind(query)
	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	for _, ev := range events {
		grouped[ev.DocumentID] = append(grouped[ev.DocumentID], ev)
	}
	return grouped, nil
}
