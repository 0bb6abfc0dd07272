package server

import (
	"encoding/json"

	"growboard/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	Niche    string  `json:"niche,omitempty"`
	Platform string  `json:"platform,omitempty"`
	Name     string  `json:"name"`
	Points   int64   `json:"points" minimum:"0"`
	URL      *string `json:"url,omitempty"`
}

type ClaimRequest struct {
	ActorName string `json:"actor_name,omitempty"`
}

type SubmitProofRequest struct {
	Evidence string `json:"evidence"`
}

type DecisionRequest struct {
	ActorID string `json:"actor_id"`
}

type AdminGrantRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type TaskResponse struct {
	ID        int64   `json:"id"`
	Niche     string  `json:"niche"`
	Platform  string  `json:"platform,omitempty"`
	Name      string  `json:"name"`
	Points    int64   `json:"points"`
	URL       *string `json:"url,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type ProgressResponse struct {
	ActorID   string  `json:"actor_id"`
	TaskID    int64   `json:"task_id"`
	ActorName string  `json:"actor_name,omitempty"`
	Completed bool    `json:"completed"`
	Points    int64   `json:"points"`
	Evidence  *string `json:"evidence,omitempty"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type ClaimResponse struct {
	Outcome string           `json:"outcome" enum:"now_in_progress,already_completed"`
	Task    TaskResponse     `json:"task"`
	Record  ProgressResponse `json:"record"`
}

type ProofRequestedResponse struct {
	ActorID string       `json:"actor_id"`
	Task    TaskResponse `json:"task"`
}

type ProofSubmittedResponse struct {
	Consumed bool              `json:"consumed"`
	TaskID   int64             `json:"task_id,omitempty"`
	Record   *ProgressResponse `json:"record,omitempty"`
}

type ApproveResponse struct {
	Outcome string           `json:"outcome" enum:"approved,already_approved"`
	Points  int64            `json:"points"`
	Record  ProgressResponse `json:"record"`
}

type RejectResponse struct {
	Outcome string `json:"outcome" enum:"rejected,nothing_to_reject"`
}

type StatsResponse struct {
	ActorID     string             `json:"actor_id"`
	TotalPoints int64              `json:"total_points"`
	Completed   int                `json:"completed"`
	InProgress  int                `json:"in_progress"`
	Records     []ProgressResponse `json:"records"`
}

type LeaderboardEntryResponse struct {
	Rank       int    `json:"rank"`
	ActorLabel string `json:"actor_label"`
	Points     int64  `json:"points"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type AdminResponse struct {
	ActorID   string `json:"actor_id"`
	GrantedBy string `json:"granted_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func progressResponse(p domain.ProgressRecord) ProgressResponse {
	return ProgressResponse(p)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapProgress(items []domain.ProgressRecord) []ProgressResponse {
	res := make([]ProgressResponse, 0, len(items))
	for _, p := range items {
		res = append(res, progressResponse(p))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
