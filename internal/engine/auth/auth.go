package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ForbiddenError indicates a caller without the admin capability.
type ForbiddenError struct {
	ActorID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s is not an admin", e.ActorID)
}

// Service answers capability checks backed by the admins table.
type Service struct {
	DB *sql.DB
}

func (s Service) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	if actorID == "" {
		return false, errors.New("actor_id required")
	}
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM admins WHERE actor_id=? LIMIT 1`, actorID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RequireAdmin returns ForbiddenError when the actor is not in the admins table.
func (s Service) RequireAdmin(ctx context.Context, actorID string) error {
	ok, err := s.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{ActorID: actorID}
	}
	return nil
}
