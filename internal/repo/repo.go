package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"growboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(niche,platform,name,points,url,created_at) VALUES (?,?,?,?,?,?)`,
		t.Niche, t.Platform, t.Name, t.Points, nullableStringPtr(t.URL), t.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var url sql.NullString
	err := scan(&t.ID, &t.Niche, &t.Platform, &t.Name, &t.Points, &url, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if url.Valid {
		t.URL = &url.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,niche,platform,name,points,url,created_at FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,niche,platform,name,points,url,created_at FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	Niche    string
	Platform string
	Limit    int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Niche != "" {
		clauses = append(clauses, "niche=?")
		args = append(args, f.Niche)
	}
	if f.Platform != "" {
		clauses = append(clauses, "platform=?")
		args = append(args, f.Platform)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,niche,platform,name,points,url,created_at FROM tasks ` + where + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeleteTaskTx reports whether a row was removed; a missing id is not an error.
func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListNiches(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT niche FROM tasks ORDER BY niche ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func scanProgress(scan func(dest ...any) error) (domain.ProgressRecord, error) {
	var p domain.ProgressRecord
	var actorName, evidence sql.NullString
	var completed int
	err := scan(&p.ActorID, &p.TaskID, &actorName, &completed, &p.Points, &evidence, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Completed = completed != 0
	if actorName.Valid {
		p.ActorName = actorName.String
	}
	if evidence.Valid {
		p.Evidence = &evidence.String
	}
	return p, nil
}

func (r Repo) GetProgress(ctx context.Context, actorID string, taskID int64) (domain.ProgressRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT actor_id,task_id,actor_name,completed,points,evidence,updated_at FROM progress WHERE actor_id=? AND task_id=?`, actorID, taskID)
	return scanProgress(row.Scan)
}

func (r Repo) GetProgressTx(ctx context.Context, tx *sql.Tx, actorID string, taskID int64) (domain.ProgressRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT actor_id,task_id,actor_name,completed,points,evidence,updated_at FROM progress WHERE actor_id=? AND task_id=?`, actorID, taskID)
	return scanProgress(row.Scan)
}

// UpsertClaimTx records an in-progress claim. A re-claim refreshes the
// name snapshot and clears stale evidence; points and the completed flag
// are untouched (the engine never claims over an approved row).
func (r Repo) UpsertClaimTx(ctx context.Context, tx *sql.Tx, actorID, actorName string, taskID int64, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO progress(actor_id,task_id,actor_name,completed,points,evidence,updated_at) VALUES (?,?,?,0,0,NULL,?)
ON CONFLICT(actor_id,task_id) DO UPDATE SET actor_name=excluded.actor_name, evidence=NULL, updated_at=excluded.updated_at`,
		actorID, taskID, nullable(actorName), updatedAt)
	return err
}

func (r Repo) SetEvidenceTx(ctx context.Context, tx *sql.Tx, actorID string, taskID int64, evidence, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO progress(actor_id,task_id,actor_name,completed,points,evidence,updated_at) VALUES (?,?,NULL,0,0,?,?)
ON CONFLICT(actor_id,task_id) DO UPDATE SET evidence=excluded.evidence, updated_at=excluded.updated_at`,
		actorID, taskID, nullable(evidence), updatedAt)
	return err
}

// ApproveProgressTx marks a record completed with the awarded points.
func (r Repo) ApproveProgressTx(ctx context.Context, tx *sql.Tx, actorID string, taskID, points int64, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO progress(actor_id,task_id,actor_name,completed,points,evidence,updated_at) VALUES (?,?,NULL,1,?,NULL,?)
ON CONFLICT(actor_id,task_id) DO UPDATE SET completed=1, points=excluded.points, updated_at=excluded.updated_at`,
		actorID, taskID, points, updatedAt)
	return err
}

func (r Repo) DeleteProgressTx(ctx context.Context, tx *sql.Tx, actorID string, taskID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM progress WHERE actor_id=? AND task_id=?`, actorID, taskID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListProgressByActor(ctx context.Context, actorID string) ([]domain.ProgressRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id,task_id,actor_name,completed,points,evidence,updated_at FROM progress WHERE actor_id=? ORDER BY task_id ASC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressRecord
	for rows.Next() {
		p, err := scanProgress(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// PendingEvidence lists in-progress records that already carry evidence,
// oldest submission first.
func (r Repo) PendingEvidence(ctx context.Context, limit int) ([]domain.ProgressRecord, error) {
	query := `SELECT actor_id,task_id,actor_name,completed,points,evidence,updated_at FROM progress WHERE completed=0 AND evidence IS NOT NULL ORDER BY updated_at ASC, task_id ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressRecord
	for rows.Next() {
		p, err := scanProgress(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ActorStats(ctx context.Context, actorID string) (domain.ActorStats, error) {
	s := domain.ActorStats{ActorID: actorID}
	err := r.DB.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN completed=1 THEN points ELSE 0 END),0),
		COALESCE(SUM(completed),0),
		COALESCE(SUM(1-completed),0)
	FROM progress WHERE actor_id=?`, actorID).Scan(&s.TotalPoints, &s.Completed, &s.InProgress)
	return s, err
}

// Leaderboard ranks actors by approved points. Ties keep the order the
// actors first appeared in the ledger.
func (r Repo) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT COALESCE(NULLIF(MAX(actor_name),''), actor_id) AS label, SUM(points) AS total
FROM progress WHERE completed=1 GROUP BY actor_id ORDER BY total DESC, MIN(rowid) ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.ActorLabel, &e.Points); err != nil {
			return nil, err
		}
		e.Rank = len(res) + 1
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
