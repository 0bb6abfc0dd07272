package engine

import (
	"context"
	"fmt"

	"growboard/internal/domain"
)

// ActionKind tags a lifecycle transition carried over a boundary.
type ActionKind string

const (
	ActionClaim        ActionKind = "claim"
	ActionRequestProof ActionKind = "request_proof"
	ActionSubmitProof  ActionKind = "submit_proof"
	ActionApprove      ActionKind = "approve"
	ActionReject       ActionKind = "reject"
)

// Action is the boundary form of a lifecycle transition. ActorID is the
// caller; TargetActorID names whose ledger row an admin decision touches.
type Action struct {
	Kind          ActionKind `json:"kind"`
	ActorID       string     `json:"actor_id" required:"false"`
	ActorName     string     `json:"actor_name,omitempty"`
	TaskID        int64      `json:"task_id,omitempty"`
	TargetActorID string     `json:"target_actor_id,omitempty"`
	Evidence      string     `json:"evidence,omitempty"`
}

// ActionResult reports what a dispatched action did.
type ActionResult struct {
	Kind    ActionKind             `json:"kind"`
	Outcome Outcome                `json:"outcome"`
	TaskID  int64                  `json:"task_id,omitempty"`
	Points  int64                  `json:"points,omitempty"`
	Record  *domain.ProgressRecord `json:"record,omitempty"`
}

// Dispatch routes a tagged action to the matching transition.
func (e *Engine) Dispatch(ctx context.Context, a Action) (ActionResult, error) {
	switch a.Kind {
	case ActionClaim:
		res, err := e.Claim(ctx, a.ActorID, a.ActorName, a.TaskID)
		if err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Kind: a.Kind, Outcome: res.Outcome, TaskID: a.TaskID, Record: &res.Record}, nil
	case ActionRequestProof:
		if _, err := e.RequestProof(ctx, a.ActorID, a.TaskID); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Kind: a.Kind, Outcome: "proof_requested", TaskID: a.TaskID}, nil
	case ActionSubmitProof:
		res, err := e.SubmitProof(ctx, a.ActorID, a.ActorName, a.Evidence)
		if err != nil {
			return ActionResult{}, err
		}
		if !res.Consumed {
			return ActionResult{Kind: a.Kind, Outcome: "ignored"}, nil
		}
		return ActionResult{Kind: a.Kind, Outcome: "proof_stored", TaskID: res.TaskID, Record: &res.Record}, nil
	case ActionApprove:
		res, err := e.Approve(ctx, a.ActorID, a.TargetActorID, a.TaskID)
		if err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Kind: a.Kind, Outcome: res.Outcome, TaskID: a.TaskID, Points: res.Points, Record: &res.Record}, nil
	case ActionReject:
		res, err := e.Reject(ctx, a.ActorID, a.TargetActorID, a.TaskID)
		if err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Kind: a.Kind, Outcome: res.Outcome, TaskID: a.TaskID}, nil
	default:
		return ActionResult{}, ValidationError{Message: fmt.Sprintf("unknown action kind %q", a.Kind)}
	}
}
