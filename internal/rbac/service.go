package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warelink-erp/warelink/internal/shared"
)

// PermissionSource resolves the effective permissions for a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	Role(ctx context.Context, userID int64) (string, error)
}

// Service resolves permissions from the user's stored role.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Role returns the role of the given user.
func (s *Service) Role(ctx context.Context, userID int64) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 AND is_active`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", fmt.Errorf("rbac: load role: %w", err)
	}
	return role, nil
}

// EffectivePermissions returns the permission set for the user's role.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	role, err := s.Role(ctx, userID)
	if err != nil {
		return nil, err
	}
	return PermissionsForRole(role), nil
}

var _ PermissionSource = (*Service)(nil)
