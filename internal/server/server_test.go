package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"growboard/internal/config"
	"growboard/internal/db"
	"growboard/internal/engine"
	"growboard/internal/migrate"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var (
	adminHeaders = map[string]string{"X-Actor-Id": "admin-1"}
	userHeaders  = map[string]string{"X-Actor-Id": "u1", "X-Actor-Name": "alice"}
)

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := e.GrantAdmin(context.Background(), "admin-1", ""); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTask(t *testing.T, srv *testServer, name string, points int64) int64 {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"niche":    "crypto",
		"platform": "twitter",
		"name":     name,
		"points":   points,
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created.ID
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestTaskCreateRequiresAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"name": "nope", "points": 1,
	}, userHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestClaimApproveFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	taskID := createTask(t, srv, "follow", 10)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/claim", nil, userHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	var claim ClaimResponse
	if err := json.Unmarshal(data, &claim); err != nil {
		t.Fatalf("unmarshal claim: %v", err)
	}
	if claim.Outcome != "now_in_progress" || claim.Record.ActorName != "alice" {
		t.Fatalf("unexpected claim: %+v", claim)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/approve", map[string]any{
		"actor_id": "u1",
	}, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var approved ApproveResponse
	_ = json.Unmarshal(data, &approved)
	if approved.Outcome != "approved" || approved.Points != 10 {
		t.Fatalf("unexpected approval: %+v", approved)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/actors/u1/stats", nil, userHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
	var stats StatsResponse
	_ = json.Unmarshal(data, &stats)
	if stats.TotalPoints != 10 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestApproveForbiddenForNonAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	taskID := createTask(t, srv, "gated", 5)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/approve", map[string]any{
		"actor_id": "u2",
	}, userHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestProofRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	taskID := createTask(t, srv, "proofed", 8)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/proof", nil, userHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request proof status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proofs", map[string]any{
		"evidence": "https://proof.example/shot.png",
	}, userHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit proof status %d: %s", res.StatusCode, string(data))
	}
	var submitted ProofSubmittedResponse
	_ = json.Unmarshal(data, &submitted)
	if !submitted.Consumed || submitted.TaskID != taskID {
		t.Fatalf("unexpected submission: %+v", submitted)
	}

	// Review queue visible to admins only.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/proofs/pending", nil, userHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin review, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/proofs/pending", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d: %s", res.StatusCode, string(data))
	}
	var pending []ProgressResponse
	_ = json.Unmarshal(data, &pending)
	if len(pending) != 1 || pending[0].ActorID != "u1" {
		t.Fatalf("unexpected queue: %+v", pending)
	}

	// Second submission with no armed entry is ignored.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proofs", map[string]any{
		"evidence": "second",
	}, userHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit proof status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &submitted)
	if submitted.Consumed {
		t.Fatalf("expected ignored submission: %+v", submitted)
	}
}

func TestRejectClearsRecord(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	taskID := createTask(t, srv, "rejected", 5)

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/claim", nil, userHeaders); res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/reject", map[string]any{
		"actor_id": "u1",
	}, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(data))
	}
	var rejected RejectResponse
	_ = json.Unmarshal(data, &rejected)
	if rejected.Outcome != "rejected" {
		t.Fatalf("unexpected reject: %+v", rejected)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/reject", map[string]any{
		"actor_id": "u1",
	}, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("repeat reject status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &rejected)
	if rejected.Outcome != "nothing_to_reject" {
		t.Fatalf("repeat reject should be a no-op: %+v", rejected)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	t1 := createTask(t, srv, "small", 5)
	t2 := createTask(t, srv, "big", 20)

	for actor, task := range map[string]int64{"u1": t1, "u2": t2} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(task)+"/approve", map[string]any{
			"actor_id": actor,
		}, adminHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/leaderboard", nil, userHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("leaderboard status %d: %s", res.StatusCode, string(data))
	}
	var entries []LeaderboardEntryResponse
	_ = json.Unmarshal(data, &entries)
	if len(entries) != 2 || entries[0].ActorLabel != "u2" || entries[0].Points != 20 {
		t.Fatalf("unexpected leaderboard: %+v", entries)
	}
}

func TestClaimMissingTaskReturns404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/999/claim", nil, userHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestActionDispatchEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	taskID := createTask(t, srv, "dispatched", 15)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/actions", map[string]any{
		"kind":    "claim",
		"task_id": taskID,
	}, userHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch status %d: %s", res.StatusCode, string(data))
	}
	var result struct {
		Kind    string `json:"kind"`
		Outcome string `json:"outcome"`
	}
	_ = json.Unmarshal(data, &result)
	if result.Kind != "claim" || result.Outcome != "now_in_progress" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// The acting party is always the authenticated principal, so a caller
	// cannot dispatch admin decisions without the capability.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/actions", map[string]any{
		"kind":            "approve",
		"task_id":         taskID,
		"target_actor_id": "u1",
	}, userHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/actions", map[string]any{
		"kind": "bogus",
	}, userHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "jwt-user",
		"name":     "bob",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unexpected login response: %s %v", string(data), err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt request status %d: %s", res.StatusCode, string(data))
	}
}

func TestAdminGrantOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/admins", map[string]any{
		"actor_id": "admin-2",
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("grant status %d: %s", res.StatusCode, string(data))
	}
	taskID := createTask(t, srv, "by-new-admin", 1)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/approve", map[string]any{
		"actor_id": "u1",
	}, map[string]string{"X-Actor-Id": "admin-2"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("new admin approve status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/admins/admin-2", nil, adminHeaders)
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("revoke status %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	taskID := createTask(t, srv, "logged", 3)
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(taskID)+"/claim", nil, userHeaders); res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=task.claimed", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.Items[0].Type != "task.claimed" {
		t.Fatalf("unexpected events: %+v", page)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
