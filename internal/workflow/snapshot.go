package workflow

import (
	"encoding/json"
	"fmt"

	"PaperBlogBot/internal/domain"
)

const snapshotVersion = 1

type snapshotEnvelope struct {
	Version int             `json:"version"`
	Session json.RawMessage `json:"session"`
}

// EncodeSnapshot serializes the full session for a checkpoint record.
func EncodeSnapshot(s domain.Session) ([]byte, error) {
	s = s.Clone()
	s.RecentEvents = nil
	s.ResumeChoices = nil
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return json.Marshal(snapshotEnvelope{Version: snapshotVersion, Session: raw})
}

// DecodeSnapshot rebuilds a session from a checkpoint. Shapes that no longer
// match the current model are replaced by defaults; each substitution is
// reported in drift. The error is non-nil only when nothing beyond the record's
// topic could be recovered, and it wraps domain.ErrStructuralDrift.
func DecodeSnapshot(rec domain.CheckpointRecord) (domain.Session, []string, error) {
	fresh := domain.Session{
		ID:         rec.SessionID,
		Topic:      rec.Topic,
		TopicQuery: rec.Topic,
		CreatedAt:  rec.CreatedAt,
		Stage:      domain.StateAwaitingTopic,
	}

	var env snapshotEnvelope
	if err := json.Unmarshal(rec.Snapshot, &env); err != nil {
		return fresh, []string{"snapshot"}, fmt.Errorf("%w: envelope: %v", domain.ErrStructuralDrift, err)
	}
	payload := env.Session
	if env.Version == 0 || len(payload) == 0 {
		// Bare session objects predate the envelope.
		payload = rec.Snapshot
	}

	var s domain.Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return fresh, []string{"session"}, fmt.Errorf("%w: session: %v", domain.ErrStructuralDrift, err)
	}

	var drift []string
	if env.Version > snapshotVersion {
		drift = append(drift, fmt.Sprintf("version %d", env.Version))
	}
	if s.ID == "" {
		s.ID = rec.SessionID
		drift = append(drift, "id")
	}
	if s.Topic == "" {
		s.Topic = rec.Topic
		drift = append(drift, "topic")
	}
	if s.TopicQuery == "" {
		s.TopicQuery = s.Topic
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = rec.CreatedAt
	}
	if s.Stage != "" && !s.Stage.Known() {
		drift = append(drift, "stage "+string(s.Stage))
		s.Stage = ""
	}
	if s.Style != "" {
		if _, ok := domain.StyleByID(s.Style); !ok {
			drift = append(drift, "style "+s.Style)
			s.Style = domain.DefaultStyle().ID
		}
	}
	for i := range s.Items {
		switch s.Items[i].Enrichment {
		case domain.EnrichmentAbsent, domain.EnrichmentAttempted, domain.EnrichmentPresent:
		default:
			s.Items[i].Enrichment = domain.EnrichmentAbsent
			drift = append(drift, "enrichment "+s.Items[i].ID)
		}
	}
	known := map[string]bool{}
	for _, sub := range s.Suggested {
		known[sub.Name] = true
	}
	selected := s.Selected[:0:0]
	for _, name := range s.Selected {
		if known[name] {
			selected = append(selected, name)
		} else {
			drift = append(drift, "subtopic "+name)
		}
	}
	s.Selected = selected
	s.ResumeChoices = nil
	s.RecentEvents = nil
	return s, drift, nil
}

// ResumeState maps a checkpoint label to the state the chain re-enters. Labels
// outside the known set and states whose prerequisites are missing are
// inferred from the snapshot content instead.
func ResumeState(label string, s domain.Session) domain.State {
	var target domain.State
	switch label {
	case domain.LabelSubtopicsSuggested:
		target = domain.StateSelectingSubtopics
	case domain.LabelCandidatesScored, domain.LabelCompleted:
		target = domain.StateSelectingStyle
	case domain.LabelStyleSelected, domain.LabelGenerationStarted:
		target = domain.StateConfirmingGeneration
	default:
		return inferState(s)
	}

	switch target {
	case domain.StateConfirmingGeneration:
		if len(s.Items) == 0 || s.Style == "" {
			return inferState(s)
		}
	case domain.StateSelectingStyle:
		if len(s.Items) == 0 {
			return inferState(s)
		}
	case domain.StateSelectingSubtopics:
		if s.Topic == "" {
			return domain.StateAwaitingTopic
		}
	}
	return target
}

func inferState(s domain.Session) domain.State {
	switch {
	case len(s.Items) > 0 && s.Style != "" && s.Artifact == nil:
		return domain.StateConfirmingGeneration
	case len(s.Items) > 0:
		return domain.StateSelectingStyle
	case s.Topic != "":
		return domain.StateSelectingSubtopics
	default:
		return domain.StateAwaitingTopic
	}
}
