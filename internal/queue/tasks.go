package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rmarchant/sheetscan/internal/domain"
)

const TypeSubmitSession = "session:submit"

// SubmitSessionPayload freezes everything a submit needs at enqueue time.
// Edits are rejected while the submit is in flight, so the edit state here
// cannot go stale.
type SubmitSessionPayload struct {
	SessionID   string             `json:"session_id"`
	Source      domain.SourceImage `json:"source"`
	Edit        domain.EditState   `json:"edit"`
	RequestedAt time.Time          `json:"requested_at"`
}

func NewSubmitSessionTask(payload SubmitSessionPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal submit payload: %w", err)
	}
	return asynq.NewTask(TypeSubmitSession, body), nil
}

func ParseSubmitSessionPayload(task *asynq.Task) (SubmitSessionPayload, error) {
	var payload SubmitSessionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SubmitSessionPayload{}, fmt.Errorf("unmarshal submit payload: %w", err)
	}
	return payload, nil
}
