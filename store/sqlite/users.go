package sqlite

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// USERS
// =============================================================================

var userColumns = []string{
	"id", "directory_id", "email", "name", "role", "status",
	"is_request_deactivate", "created_at", "updated_at",
}

func scanUser(row rowScanner) (ledger.User, error) {
	var (
		u                ledger.User
		created, updated string
	)
	err := row.Scan(&u.ID, &u.DirectoryID, &u.Email, &u.Name, &u.Role, &u.Status,
		&u.IsRequestDeactivate, &created, &updated)
	if err != nil {
		return u, err
	}
	var d decoder
	u.CreatedAt = d.time(created)
	u.UpdatedAt = d.time(updated)
	return u, d.err
}

func (s *Store) GetUser(ctx context.Context, id string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOne(ctx, s, psql.Select(userColumns...).From("users").Where(sq.Eq{"id": id}), scanUser)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOne(ctx, s, psql.Select(userColumns...).From("users").
		Where(sq.Expr("email = ? COLLATE NOCASE", email)), scanUser)
}

func (s *Store) InsertUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exec(ctx, psql.Insert("users").Columns(userColumns...).Values(
		u.ID, u.DirectoryID, u.Email, u.Name, u.Role, u.Status,
		u.IsRequestDeactivate, formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	))
	return duplicate(err, "user", u.ID)
}

func (s *Store) UpdateUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.affected(ctx, psql.Update("users").SetMap(map[string]any{
		"directory_id":          u.DirectoryID,
		"email":                 u.Email,
		"name":                  u.Name,
		"role":                  u.Role,
		"status":                u.Status,
		"is_request_deactivate": u.IsRequestDeactivate,
		"updated_at":            formatTime(u.UpdatedAt),
	}).Where(sq.Eq{"id": u.ID}))
	if err != nil {
		return duplicate(err, "user email", u.Email)
	}
	if n == 0 {
		return ledger.NotFound("store.update_user", "user", u.ID)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exec(ctx, psql.Delete("users").Where(sq.Eq{"id": id}))
	return err
}
