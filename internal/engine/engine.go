package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"growboard/internal/config"
	"growboard/internal/domain"
	"growboard/internal/engine/auth"
	"growboard/internal/events"
	"growboard/internal/repo"
)

// Engine owns all catalog and ledger mutations. A single mutex serializes
// writes and guards the in-memory pending-proof map, so interleaved
// conversations never observe half-applied transitions.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time

	mu      sync.Mutex
	pending map[string]int64 // actor_id -> task_id awaiting proof
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Auth:    auth.Service{DB: db},
		Config:  cfg,
		Now:     time.Now,
		pending: map[string]int64{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError marks caller input problems.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// Outcome classifies the result of a lifecycle transition.
type Outcome string

const (
	OutcomeNowInProgress    Outcome = "now_in_progress"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeApproved         Outcome = "approved"
	OutcomeAlreadyApproved  Outcome = "already_approved"
	OutcomeRejected         Outcome = "rejected"
	OutcomeNothingToReject  Outcome = "nothing_to_reject"
)

type TaskAddOptions struct {
	Niche    string
	Platform string
	Name     string
	Points   int64
	URL      string
	ActorID  string
}

func (e *Engine) defaultNiche() string {
	if e.Config != nil && e.Config.Bot.DefaultNiche != "" {
		return e.Config.Bot.DefaultNiche
	}
	return "general"
}

// AddTask registers a catalog entry and returns it with its assigned ID.
func (e *Engine) AddTask(ctx context.Context, opts TaskAddOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, ValidationError{Message: "name is required"}
	}
	if opts.Points < 0 {
		return domain.Task{}, ValidationError{Message: "points must not be negative"}
	}
	if opts.Niche == "" {
		opts.Niche = e.defaultNiche()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t := domain.Task{
		Niche:     opts.Niche,
		Platform:  opts.Platform,
		Name:      opts.Name,
		Points:    opts.Points,
		URL:       optionalString(opts.URL),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	id, err := e.Repo.InsertTask(ctx, tx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	if err := e.Events.Append(ctx, tx, "task.added", "task", taskKey(id), opts.ActorID, events.EventPayload{
		"niche": t.Niche, "platform": t.Platform, "name": t.Name, "points": t.Points,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// RemoveTask drops a catalog entry. Removing a missing id is a no-op.
// Ledger rows that reference the task stay, so already-earned points
// survive catalog edits. Pending-proof entries aimed at the task are
// cleared.
func (e *Engine) RemoveTask(ctx context.Context, taskID int64, actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	removed, err := e.Repo.DeleteTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if removed {
		if err := e.Events.Append(ctx, tx, "task.removed", "task", taskKey(taskID), actorID, nil); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for actor, tid := range e.pending {
		if tid == taskID {
			delete(e.pending, actor)
		}
	}
	return nil
}

func (e *Engine) GetTask(ctx context.Context, taskID int64) (domain.Task, error) {
	return e.Repo.GetTask(ctx, taskID)
}

func (e *Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

type ClaimResult struct {
	Outcome Outcome
	Task    domain.Task
	Record  domain.ProgressRecord
}

// Claim marks a task in progress for an actor. Claiming an approved task
// changes nothing and reports the completion; claiming an in-progress task
// refreshes the name snapshot.
func (e *Engine) Claim(ctx context.Context, actorID, actorName string, taskID int64) (ClaimResult, error) {
	if actorID == "" {
		return ClaimResult{}, ValidationError{Message: "actor_id is required"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ClaimResult{}, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ClaimResult{}, fmt.Errorf("task %d: %w", taskID, repo.ErrNotFound)
		}
		return ClaimResult{}, err
	}
	rec, err := e.Repo.GetProgressTx(ctx, tx, actorID, taskID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return ClaimResult{}, err
	}
	if err == nil && rec.Completed {
		return ClaimResult{Outcome: OutcomeAlreadyCompleted, Task: task, Record: rec}, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpsertClaimTx(ctx, tx, actorID, actorName, taskID, now); err != nil {
		return ClaimResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.claimed", "task", taskKey(taskID), actorID, events.EventPayload{
		"actor_name": actorName,
	}); err != nil {
		return ClaimResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ClaimResult{}, err
	}
	rec, err = e.Repo.GetProgress(ctx, actorID, taskID)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Outcome: OutcomeNowInProgress, Task: task, Record: rec}, nil
}

// RequestProof arms the pending-proof entry for an actor. A later request
// overwrites an earlier one; only the most recent task is awaiting proof.
func (e *Engine) RequestProof(ctx context.Context, actorID string, taskID int64) (domain.Task, error) {
	if actorID == "" {
		return domain.Task{}, ValidationError{Message: "actor_id is required"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "proof.requested", "task", taskKey(taskID), actorID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.pending[actorID] = taskID
	return task, nil
}

type ProofResult struct {
	Consumed bool
	TaskID   int64
	Record   domain.ProgressRecord
}

// SubmitProof consumes the actor's pending-proof entry and stores the
// evidence on the matching ledger row. Without an armed entry the
// submission is ignored. The entry survives a failed write.
func (e *Engine) SubmitProof(ctx context.Context, actorID, actorName, evidence string) (ProofResult, error) {
	if actorID == "" {
		return ProofResult{}, ValidationError{Message: "actor_id is required"}
	}
	if evidence == "" {
		return ProofResult{}, ValidationError{Message: "evidence is required"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	taskID, ok := e.pending[actorID]
	if !ok {
		return ProofResult{Consumed: false}, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ProofResult{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetProgressTx(ctx, tx, actorID, taskID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return ProofResult{}, err
	}
	if err == nil && rec.Completed {
		// Already approved; drop the stale entry without touching the row.
		delete(e.pending, actorID)
		return ProofResult{Consumed: true, TaskID: taskID, Record: rec}, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpsertClaimTx(ctx, tx, actorID, actorName, taskID, now); err != nil {
		return ProofResult{}, err
	}
	if err := e.Repo.SetEvidenceTx(ctx, tx, actorID, taskID, evidence, now); err != nil {
		return ProofResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "proof.submitted", "task", taskKey(taskID), actorID, events.EventPayload{
		"evidence": evidence,
	}); err != nil {
		return ProofResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ProofResult{}, err
	}
	delete(e.pending, actorID)
	rec, err = e.Repo.GetProgress(ctx, actorID, taskID)
	if err != nil {
		return ProofResult{}, err
	}
	return ProofResult{Consumed: true, TaskID: taskID, Record: rec}, nil
}

// PendingProofFor reports which task, if any, awaits proof from the actor.
func (e *Engine) PendingProofFor(actorID string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.pending[actorID]
	return id, ok
}

// PendingProofs returns a snapshot of all armed pending-proof entries.
func (e *Engine) PendingProofs() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int64, len(e.pending))
	for k, v := range e.pending {
		out[k] = v
	}
	return out
}

type ApproveResult struct {
	Outcome Outcome
	Points  int64
	Record  domain.ProgressRecord
}

// Approve awards the task's current point value to an actor. Approving an
// already-approved record returns the stored points without mutation.
// Approval does not require a prior claim.
func (e *Engine) Approve(ctx context.Context, adminID, actorID string, taskID int64) (ApproveResult, error) {
	if err := e.Auth.RequireAdmin(ctx, adminID); err != nil {
		return ApproveResult{}, err
	}
	if actorID == "" {
		return ApproveResult{}, ValidationError{Message: "actor_id is required"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApproveResult{}, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return ApproveResult{}, err
	}
	rec, err := e.Repo.GetProgressTx(ctx, tx, actorID, taskID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return ApproveResult{}, err
	}
	if err == nil && rec.Completed {
		return ApproveResult{Outcome: OutcomeAlreadyApproved, Points: rec.Points, Record: rec}, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ApproveProgressTx(ctx, tx, actorID, taskID, task.Points, now); err != nil {
		return ApproveResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "proof.approved", "task", taskKey(taskID), adminID, events.EventPayload{
		"target_actor": actorID, "points": task.Points,
	}); err != nil {
		return ApproveResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApproveResult{}, err
	}
	if tid, ok := e.pending[actorID]; ok && tid == taskID {
		delete(e.pending, actorID)
	}
	rec, err = e.Repo.GetProgress(ctx, actorID, taskID)
	if err != nil {
		return ApproveResult{}, err
	}
	return ApproveResult{Outcome: OutcomeApproved, Points: task.Points, Record: rec}, nil
}

type RejectResult struct {
	Outcome Outcome
}

// Reject clears an actor's ledger row for the task. Rejecting an absent
// row is a no-op, so repeated rejections are safe.
func (e *Engine) Reject(ctx context.Context, adminID, actorID string, taskID int64) (RejectResult, error) {
	if err := e.Auth.RequireAdmin(ctx, adminID); err != nil {
		return RejectResult{}, err
	}
	if actorID == "" {
		return RejectResult{}, ValidationError{Message: "actor_id is required"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RejectResult{}, err
	}
	defer tx.Rollback()

	deleted, err := e.Repo.DeleteProgressTx(ctx, tx, actorID, taskID)
	if err != nil {
		return RejectResult{}, err
	}
	if deleted {
		if err := e.Events.Append(ctx, tx, "proof.rejected", "task", taskKey(taskID), adminID, events.EventPayload{
			"target_actor": actorID,
		}); err != nil {
			return RejectResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return RejectResult{}, err
	}
	if tid, ok := e.pending[actorID]; ok && tid == taskID {
		delete(e.pending, actorID)
	}
	if !deleted {
		return RejectResult{Outcome: OutcomeNothingToReject}, nil
	}
	return RejectResult{Outcome: OutcomeRejected}, nil
}

func (e *Engine) StatsFor(ctx context.Context, actorID string) (domain.ActorStats, error) {
	if actorID == "" {
		return domain.ActorStats{}, ValidationError{Message: "actor_id is required"}
	}
	return e.Repo.ActorStats(ctx, actorID)
}

// Leaderboard returns the top earners, clamped to the configured limits.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 && e.Config != nil {
		limit = e.Config.Leaderboard.DefaultLimit
	}
	if limit <= 0 {
		limit = 10
	}
	if e.Config != nil && e.Config.Leaderboard.MaxLimit > 0 && limit > e.Config.Leaderboard.MaxLimit {
		limit = e.Config.Leaderboard.MaxLimit
	}
	return e.Repo.Leaderboard(ctx, limit)
}

// PendingReview lists in-progress ledger rows that carry evidence.
func (e *Engine) PendingReview(ctx context.Context, adminID string, limit int) ([]domain.ProgressRecord, error) {
	if err := e.Auth.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return e.Repo.PendingEvidence(ctx, limit)
}

// GrantAdmin adds an actor to the admins table.
func (e *Engine) GrantAdmin(ctx context.Context, actorID, grantedBy string) error {
	if actorID == "" {
		return ValidationError{Message: "actor_id is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.GrantAdmin(ctx, tx, actorID, grantedBy, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "admin.granted", "actor", actorID, grantedBy, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) RevokeAdmin(ctx context.Context, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.RevokeAdmin(ctx, tx, actorID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "admin.revoked", "actor", actorID, "", nil); err != nil {
		return err
	}
	return tx.Commit()
}

func taskKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
