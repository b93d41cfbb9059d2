package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// NOTIFICATIONS
// =============================================================================

var notificationColumns = []string{
	"id", "entity_type", "related_entity_id", "text", "receiver_id",
	"is_compliance", "type", "translation_data_json", "created_at",
}

func scanNotification(row rowScanner) (ledger.Notification, error) {
	var (
		n             ledger.Notification
		data, created string
	)
	err := row.Scan(&n.ID, &n.EntityType, &n.RelatedEntityID, &n.Text, &n.ReceiverID,
		&n.IsCompliance, &n.Type, &data, &created)
	if err != nil {
		return n, err
	}
	if err := json.Unmarshal([]byte(data), &n.TranslationData); err != nil {
		return n, fmt.Errorf("decode translation data of %s: %w", n.ID, err)
	}
	var d decoder
	n.CreatedAt = d.time(created)
	return n, d.err
}

func (s *Store) InsertNotification(ctx context.Context, n ledger.Notification) error {
	data := n.TranslationData
	if data == nil {
		data = map[string]string{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode translation data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.exec(ctx, psql.Insert("notifications").Columns(notificationColumns...).Values(
		n.ID, n.EntityType, n.RelatedEntityID, n.Text, n.ReceiverID,
		n.IsCompliance, n.Type, string(raw), formatTime(n.CreatedAt),
	))
	return duplicate(err, "notification", n.ID)
}

// ListNotifications returns notifications for receiverID, newest first.
// An empty receiverID lists compliance notifications.
func (s *Store) ListNotifications(ctx context.Context, receiverID string, limit int) ([]ledger.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := psql.Select(notificationColumns...).From("notifications").OrderBy("seq DESC")
	if receiverID == "" {
		b = b.Where(sq.Eq{"is_compliance": true})
	} else {
		b = b.Where(sq.Eq{"receiver_id": receiverID})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return queryAll(ctx, s, b, scanNotification)
}

func (s *Store) DeleteNotificationsByUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.affected(ctx, psql.Delete("notifications").Where(sq.Eq{"receiver_id": userID}))
}
