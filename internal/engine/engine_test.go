package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"growboard/internal/config"
	"growboard/internal/db"
	"growboard/internal/engine"
	"growboard/internal/engine/auth"
	"growboard/internal/migrate"
	"growboard/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.GrantAdmin(ctx, "admin-1", ""); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func addTask(t *testing.T, env testEnv, name string, points int64) int64 {
	t.Helper()
	task, err := env.Engine.AddTask(env.Ctx, engine.TaskAddOptions{
		Niche:    "crypto",
		Platform: "twitter",
		Name:     name,
		Points:   points,
		URL:      "https://example.com/" + name,
		ActorID:  "admin-1",
	})
	if err != nil {
		t.Fatalf("add task %s: %v", name, err)
	}
	return task.ID
}

func TestClaimThenApprove(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "follow", 10)

	res, err := env.Engine.Claim(env.Ctx, "u1", "alice", tid)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Outcome != engine.OutcomeNowInProgress {
		t.Fatalf("unexpected outcome: %s", res.Outcome)
	}
	if res.Record.Completed || res.Record.Points != 0 {
		t.Fatalf("claim must not award points: %+v", res.Record)
	}

	app, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if app.Outcome != engine.OutcomeApproved || app.Points != 10 {
		t.Fatalf("unexpected approval: %+v", app)
	}
	stats, err := env.Engine.StatsFor(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalPoints != 10 || stats.Completed != 1 || stats.InProgress != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClaimMissingTask(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Claim(env.Ctx, "u1", "alice", 404)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReclaimAfterApprovalIsNoop(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "retweet", 5)
	if _, err := env.Engine.Claim(env.Ctx, "u1", "alice", tid); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Claim(env.Ctx, "u1", "alice-renamed", tid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != engine.OutcomeAlreadyCompleted {
		t.Fatalf("unexpected outcome: %s", res.Outcome)
	}
	rec, err := env.Engine.Repo.GetProgress(env.Ctx, "u1", tid)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Completed || rec.Points != 5 {
		t.Fatalf("approved record mutated: %+v", rec)
	}
	if rec.ActorName == "alice-renamed" {
		t.Fatal("re-claim of completed record must not refresh the name snapshot")
	}
}

func TestApproveUsesCurrentTaskPoints(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "join", 10)
	if _, err := env.Engine.Claim(env.Ctx, "u1", "alice", tid); err != nil {
		t.Fatal(err)
	}
	// Catalog edit between claim and approval.
	if _, err := env.Engine.DB.Exec(`UPDATE tasks SET points=25 WHERE id=?`, tid); err != nil {
		t.Fatal(err)
	}
	app, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid)
	if err != nil {
		t.Fatal(err)
	}
	if app.Points != 25 {
		t.Fatalf("approval should use catalog points at decision time, got %d", app.Points)
	}
}

func TestApproveIdempotentKeepsStoredPoints(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "share", 10)
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DB.Exec(`UPDATE tasks SET points=99 WHERE id=?`, tid); err != nil {
		t.Fatal(err)
	}
	app, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid)
	if err != nil {
		t.Fatal(err)
	}
	if app.Outcome != engine.OutcomeAlreadyApproved || app.Points != 10 {
		t.Fatalf("re-approval must keep stored points: %+v", app)
	}
}

func TestApproveWithoutClaimUpserts(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "vote", 7)
	app, err := env.Engine.Approve(env.Ctx, "admin-1", "u2", tid)
	if err != nil {
		t.Fatal(err)
	}
	if app.Outcome != engine.OutcomeApproved || app.Points != 7 {
		t.Fatalf("unexpected approval: %+v", app)
	}
}

func TestApproveRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "like", 3)
	_, err := env.Engine.Approve(env.Ctx, "u1", "u2", tid)
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRejectClearsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "comment", 4)
	if _, err := env.Engine.Claim(env.Ctx, "u1", "alice", tid); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Reject(env.Ctx, "admin-1", "u1", tid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != engine.OutcomeRejected {
		t.Fatalf("unexpected outcome: %s", res.Outcome)
	}
	if _, err := env.Engine.Repo.GetProgress(env.Ctx, "u1", tid); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("record should be gone, got %v", err)
	}
	res, err = env.Engine.Reject(env.Ctx, "admin-1", "u1", tid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != engine.OutcomeNothingToReject {
		t.Fatalf("repeat reject should be a no-op, got %s", res.Outcome)
	}
	// Rejected task can be claimed again.
	claim, err := env.Engine.Claim(env.Ctx, "u1", "alice", tid)
	if err != nil || claim.Outcome != engine.OutcomeNowInProgress {
		t.Fatalf("re-claim after reject: %v %v", claim.Outcome, err)
	}
}

func TestPendingProofOverwriteAndConsume(t *testing.T) {
	env := newTestEnv(t)
	t1 := addTask(t, env, "first", 5)
	t2 := addTask(t, env, "second", 8)

	if _, err := env.Engine.RequestProof(env.Ctx, "u1", t1); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestProof(env.Ctx, "u1", t2); err != nil {
		t.Fatal(err)
	}
	if tid, ok := env.Engine.PendingProofFor("u1"); !ok || tid != t2 {
		t.Fatalf("later request should overwrite, got %d %v", tid, ok)
	}

	res, err := env.Engine.SubmitProof(env.Ctx, "u1", "alice", "https://proof.example/1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Consumed || res.TaskID != t2 {
		t.Fatalf("unexpected proof result: %+v", res)
	}
	if res.Record.Evidence == nil || *res.Record.Evidence != "https://proof.example/1" {
		t.Fatalf("evidence not stored: %+v", res.Record)
	}
	if _, ok := env.Engine.PendingProofFor("u1"); ok {
		t.Fatal("entry must be consumed after submission")
	}

	// Second submission without an armed entry is ignored.
	res, err = env.Engine.SubmitProof(env.Ctx, "u1", "alice", "https://proof.example/2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Consumed {
		t.Fatal("submission without pending entry must be ignored")
	}
}

func TestPendingProofEntriesAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	t1 := addTask(t, env, "only", 5)
	if _, err := env.Engine.RequestProof(env.Ctx, "u1", t1); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestProof(env.Ctx, "u2", t1); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitProof(env.Ctx, "u1", "alice", "proof-a"); err != nil {
		t.Fatal(err)
	}
	if tid, ok := env.Engine.PendingProofFor("u2"); !ok || tid != t1 {
		t.Fatal("one actor's submission must not consume another's entry")
	}
}

func TestRemoveTaskKeepsLedgerAndClearsPending(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "ephemeral", 12)
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestProof(env.Ctx, "u2", tid); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveTask(env.Ctx, tid, "admin-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, tid); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task should be gone, got %v", err)
	}
	stats, err := env.Engine.StatsFor(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalPoints != 12 {
		t.Fatalf("earned points must survive catalog removal: %+v", stats)
	}
	if _, ok := env.Engine.PendingProofFor("u2"); ok {
		t.Fatal("pending entries aimed at a removed task must be cleared")
	}
	if err := env.Engine.RemoveTask(env.Ctx, tid, "admin-1"); err != nil {
		t.Fatalf("removing a missing task must be a no-op, got %v", err)
	}
}

func TestLeaderboardOrderAndTies(t *testing.T) {
	env := newTestEnv(t)
	t1 := addTask(t, env, "a", 10)
	t2 := addTask(t, env, "b", 10)
	t3 := addTask(t, env, "c", 20)

	// u1 first appears in the ledger, then u2, then u3.
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", t1); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u2", t2); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u3", t3); err != nil {
		t.Fatal(err)
	}

	entries, err := env.Engine.Leaderboard(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ActorLabel != "u3" || entries[0].Points != 20 || entries[0].Rank != 1 {
		t.Fatalf("unexpected leader: %+v", entries[0])
	}
	// u1 and u2 tie at 10; earlier ledger appearance wins.
	if entries[1].ActorLabel != "u1" || entries[2].ActorLabel != "u2" {
		t.Fatalf("unexpected tie order: %+v", entries[1:])
	}
}

func TestLeaderboardUsesNameSnapshot(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "named", 10)
	if _, err := env.Engine.Claim(env.Ctx, "u1", "alice", tid); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid); err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Leaderboard(env.Ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ActorLabel != "alice" {
		t.Fatalf("expected name snapshot label, got %+v", entries)
	}
}

func TestLeaderboardClampsToMaxLimit(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Leaderboard.MaxLimit = 2
	for i, name := range []string{"x", "y", "z"} {
		tid := addTask(t, env, name, int64(10*(i+1)))
		if _, err := env.Engine.Approve(env.Ctx, "admin-1", "actor-"+name, tid); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := env.Engine.Leaderboard(env.Ctx, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("limit should clamp to 2, got %d", len(entries))
	}
}

func TestPendingReviewQueue(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "reviewable", 6)
	if _, err := env.Engine.RequestProof(env.Ctx, "u1", tid); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitProof(env.Ctx, "u1", "alice", "screenshot-url"); err != nil {
		t.Fatal(err)
	}
	recs, err := env.Engine.PendingReview(env.Ctx, "admin-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ActorID != "u1" || recs[0].TaskID != tid {
		t.Fatalf("unexpected review queue: %+v", recs)
	}
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid); err != nil {
		t.Fatal(err)
	}
	recs, err = env.Engine.PendingReview(env.Ctx, "admin-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("approved rows must leave the queue: %+v", recs)
	}
	if _, err := env.Engine.PendingReview(env.Ctx, "u1", 0); err == nil {
		t.Fatal("review queue requires admin")
	}
}

func TestDefaultNicheApplied(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.AddTask(env.Ctx, engine.TaskAddOptions{Name: "bare", Points: 1, ActorID: "admin-1"})
	if err != nil {
		t.Fatal(err)
	}
	if task.Niche != "general" {
		t.Fatalf("expected default niche, got %q", task.Niche)
	}
}

func TestAddTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddTask(env.Ctx, engine.TaskAddOptions{Points: 1, ActorID: "admin-1"}); err == nil {
		t.Fatal("empty name should fail")
	}
	if _, err := env.Engine.AddTask(env.Ctx, engine.TaskAddOptions{Name: "neg", Points: -1, ActorID: "admin-1"}); err == nil {
		t.Fatal("negative points should fail")
	}
}

func TestEventsAppended(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "tracked", 9)
	if _, err := env.Engine.Claim(env.Ctx, "u1", "alice", tid); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestProof(env.Ctx, "u1", tid); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitProof(env.Ctx, "u1", "alice", "evidence"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "admin-1", "u1", tid); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "task", "")
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for i := len(evts) - 1; i >= 0; i-- {
		types = append(types, evts[i].Type)
	}
	want := []string{"task.added", "task.claimed", "proof.requested", "proof.submitted", "proof.approved"}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: want %s got %s", i, want[i], types[i])
		}
	}
}

func TestDispatch(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "dispatched", 11)

	res, err := env.Engine.Dispatch(env.Ctx, engine.Action{Kind: engine.ActionClaim, ActorID: "u1", ActorName: "alice", TaskID: tid})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != engine.OutcomeNowInProgress {
		t.Fatalf("unexpected outcome: %s", res.Outcome)
	}
	if _, err := env.Engine.Dispatch(env.Ctx, engine.Action{Kind: engine.ActionRequestProof, ActorID: "u1", TaskID: tid}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Dispatch(env.Ctx, engine.Action{Kind: engine.ActionSubmitProof, ActorID: "u1", ActorName: "alice", Evidence: "link"}); err != nil {
		t.Fatal(err)
	}
	app, err := env.Engine.Dispatch(env.Ctx, engine.Action{Kind: engine.ActionApprove, ActorID: "admin-1", TargetActorID: "u1", TaskID: tid})
	if err != nil {
		t.Fatal(err)
	}
	if app.Points != 11 {
		t.Fatalf("unexpected points: %d", app.Points)
	}
	if _, err := env.Engine.Dispatch(env.Ctx, engine.Action{Kind: "bogus", ActorID: "u1"}); err == nil {
		t.Fatal("unknown action kind should fail")
	}
}

func TestAdminGrantRevoke(t *testing.T) {
	env := newTestEnv(t)
	tid := addTask(t, env, "gated", 2)
	if err := env.Engine.GrantAdmin(env.Ctx, "admin-2", "admin-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "admin-2", "u1", tid); err != nil {
		t.Fatalf("granted admin should approve: %v", err)
	}
	if err := env.Engine.RevokeAdmin(env.Ctx, "admin-2"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Reject(env.Ctx, "admin-2", "u1", tid)
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("revoked admin should be forbidden, got %v", err)
	}
}
