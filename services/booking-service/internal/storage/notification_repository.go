package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hourbook/hourbook/libs/db"
	"github.com/hourbook/hourbook/services/booking-service/internal/model"
	"github.com/hourbook/hourbook/services/booking-service/internal/outbox"
)

type NotificationRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewNotificationRepository(pool *db.Pool, outboxRepo *outbox.Repository) *NotificationRepository {
	return &NotificationRepository{pool: pool, outbox: outboxRepo}
}

// Append stores an unread notification for recipient and queues a
// notification-created event in the same transaction.
func (r *NotificationRepository) Append(ctx context.Context, content, recipient string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n := model.Notification{ID: uuid.NewString(), Content: content, User: recipient}
	if err := tx.QueryRow(ctx, `
		INSERT INTO notifications (id, content, recipient)
		VALUES ($1, $2, $3)
		RETURNING read, created_at
	`, n.ID, n.Content, n.User).Scan(&n.Read, &n.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	payload, err := json.Marshal(outbox.NotificationCreated{
		NotificationID: n.ID,
		Recipient:      n.User,
		Content:        n.Content,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notification event: %w", err)
	}
	if _, err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: outbox.AggregateNotification,
		AggregateID:   recipient,
		EventType:     outbox.EventNotificationCreated,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return tx.Commit(ctx)
}
