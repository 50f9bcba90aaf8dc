package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/leviate/backend/internal/models"
)

// SQLNotifier stores in-app notifications for the mobile client to fetch.
type SQLNotifier struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLNotifier(db *sql.DB) *SQLNotifier {
	return &SQLNotifier{db: db, now: time.Now}
}

func (n *SQLNotifier) Notify(ctx context.Context, userID, notificationType, title, message string, data map[string]any) error {
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO notifications (id, receiver_id, type, title, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), userID, notificationType, title, message, models.Metadata(data), n.now())
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID, notificationType, title, _ string, _ map[string]any) error {
	log.Printf("[NOTIFY] %s for user %s: %s", notificationType, userID, title)
	return nil
}
