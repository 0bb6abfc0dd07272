package repo

import (
	"context"
	"database/sql"

	"growboard/internal/domain"
)

func (r Repo) GrantAdmin(ctx context.Context, tx *sql.Tx, actorID, grantedBy, now string) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT OR IGNORE INTO admins(actor_id, granted_by, created_at) VALUES (?,?,?)`, actorID, nullable(grantedBy), now)
	return err
}

func (r Repo) RevokeAdmin(ctx context.Context, tx *sql.Tx, actorID string) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	res, err := exec(`DELETE FROM admins WHERE actor_id=?`, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM admins WHERE actor_id=?`, actorID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) ListAdmins(ctx context.Context) ([]domain.Admin, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id, COALESCE(granted_by,''), created_at FROM admins ORDER BY created_at ASC, actor_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Admin
	for rows.Next() {
		var a domain.Admin
		if err := rows.Scan(&a.ActorID, &a.GrantedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
