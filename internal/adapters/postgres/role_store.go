package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
)

// RoleGrant is one row of admin_roles.
type RoleGrant struct {
	UserID    string
	Role      domainauth.Role
	GrantedAt time.Time
}

// RoleStore manages admin_roles, the table behind check_admin_status.
type RoleStore struct {
	db *sql.DB
}

// NewRoleStore constructs a RoleStore.
func NewRoleStore(db *sql.DB) (*RoleStore, error) {
	if db == nil {
		return nil, errors.New("postgres role store: db is required")
	}
	return &RoleStore{db: db}, nil
}

// Grant sets userID's role, replacing any previous grant.
func (s *RoleStore) Grant(ctx context.Context, userID string, role domainauth.Role) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidSubject
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	const q = `
		INSERT INTO admin_roles (user_id, role, granted_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, granted_at = EXCLUDED.granted_at`
	if _, err := s.db.ExecContext(ctx, q, userID, string(role)); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// Revoke removes userID's grant and reports whether one existed.
func (s *RoleStore) Revoke(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM admin_roles WHERE user_id = $1`, strings.TrimSpace(userID))
	if err != nil {
		return false, fmt.Errorf("revoke role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke role: %w", err)
	}
	return n > 0, nil
}

// List returns every grant ordered by user id.
func (s *RoleStore) List(ctx context.Context) ([]RoleGrant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role, granted_at FROM admin_roles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []RoleGrant
	for rows.Next() {
		var (
			g    RoleGrant
			role string
		)
		if err := rows.Scan(&g.UserID, &role, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		g.Role = domainauth.Role(role)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return out, nil
}
