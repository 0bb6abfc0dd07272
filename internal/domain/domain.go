package domain

// Task is a claimable catalog entry, grouped by niche and source platform.
type Task struct {
	ID        int64   `json:"id"`
	Niche     string  `json:"niche"`
	Platform  string  `json:"platform"`
	Name      string  `json:"name"`
	Points    int64   `json:"points"`
	URL       *string `json:"url,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// ProgressRecord tracks one (actor, task) pair through the lifecycle.
// Points is authoritative only while Completed is true; an approved record
// is immutable thereafter.
type ProgressRecord struct {
	ActorID   string  `json:"actor_id"`
	TaskID    int64   `json:"task_id"`
	ActorName string  `json:"actor_name,omitempty"`
	Completed bool    `json:"completed"`
	Points    int64   `json:"points"`
	Evidence  *string `json:"evidence,omitempty"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

// ActorStats is the read-side summary for one actor.
type ActorStats struct {
	ActorID     string `json:"actor_id"`
	TotalPoints int64  `json:"total_points"`
	Completed   int    `json:"completed"`
	InProgress  int    `json:"in_progress"`
}

// LeaderboardEntry ranks an actor by approved points.
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	ActorLabel string `json:"actor_label"`
	Points     int64  `json:"points"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Admin marks an actor as holding the admin capability.
type Admin struct {
	ActorID   string `json:"actor_id"`
	GrantedBy string `json:"granted_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
