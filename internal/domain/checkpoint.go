package domain

import "time"

// Stage labels written at workflow boundaries.
const (
	LabelSubtopicsSuggested = "subtopics_suggested"
	LabelCandidatesScored   = "candidates_scored"
	LabelStyleSelected      = "style_selected"
	LabelGenerationStarted  = "generation_started"
	LabelCompleted          = "completed"
)

// CheckpointRecord is one append-only snapshot of a session. Seq is assigned by the
// store and orders records by creation.
type CheckpointRecord struct {
	Seq       int64     `json:"seq"`
	Topic     string    `json:"topic"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Snapshot  []byte    `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref summarizes the record for resume menus.
func (r CheckpointRecord) Ref(items int) CheckpointRef {
	return CheckpointRef{
		Topic:     r.Topic,
		SessionID: r.SessionID,
		Stage:     r.Stage,
		Items:     items,
		CreatedAt: r.CreatedAt,
	}
}
