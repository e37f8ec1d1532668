package domain

import "time"

// recentEventLimit bounds the remembered delivery ids used to drop re-deliveries.
const recentEventLimit = 64

// Subtopic is a refinement the operator may add to the base topic.
type Subtopic struct {
	Name     string `json:"name"`
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	Mentions int    `json:"mentions,omitempty"`
}

// Artifact references the generated document.
type Artifact struct {
	Name      string    `json:"name"`
	Format    string    `json:"format"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckpointRef points at a resume candidate offered to the operator.
type CheckpointRef struct {
	Topic     string    `json:"topic"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Items     int       `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the per-operator workflow value. It is owned by exactly one
// executing stage at a time; ownership moves with the value at transitions.
type Session struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Topic      string    `json:"topic"`
	TopicQuery string    `json:"topic_query"`
	CreatedAt  time.Time `json:"created_at"`

	Stage State `json:"stage"`

	Suggested []Subtopic `json:"suggested,omitempty"`
	Selected  []string   `json:"selected,omitempty"`
	Queries   []string   `json:"queries,omitempty"`
	Items     []Item     `json:"items,omitempty"`
	FellBack  bool       `json:"fell_back,omitempty"`

	Style    string    `json:"style,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`

	LastError     string          `json:"last_error,omitempty"`
	ResumeChoices []CheckpointRef `json:"resume_choices,omitempty"`
	RecentEvents  []string        `json:"recent_events,omitempty"`
}

// NewSession returns an empty session waiting for a topic.
func NewSession(owner string) Session {
	return Session{Owner: owner, Stage: StateAwaitingTopic}
}

// IsSelected reports whether the named sub-topic is in the selection set.
func (s Session) IsSelected(name string) bool {
	for _, sel := range s.Selected {
		if sel == name {
			return true
		}
	}
	return false
}

// Toggle flips membership of name in the selection set.
func (s *Session) Toggle(name string) {
	for i, sel := range s.Selected {
		if sel == name {
			s.Selected = append(s.Selected[:i:i], s.Selected[i+1:]...)
			return
		}
	}
	s.Selected = append(s.Selected, name)
}

// SelectedSubtopics returns the selected refinements in suggestion order.
func (s Session) SelectedSubtopics() []Subtopic {
	out := make([]Subtopic, 0, len(s.Selected))
	for _, sub := range s.Suggested {
		if s.IsSelected(sub.Name) {
			out = append(out, sub)
		}
	}
	return out
}

// Accepted returns the accepted candidate items in discovery order.
func (s Session) Accepted() []Item {
	return filterItems(s.Items, true)
}

// Rejected returns the rejected candidate items in discovery order.
func (s Session) Rejected() []Item {
	return filterItems(s.Items, false)
}

// Seen reports whether the delivery id was already applied.
func (s Session) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	for _, id := range s.RecentEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// Remember records an applied delivery id, keeping a bounded window.
func (s *Session) Remember(eventID string) {
	if eventID == "" {
		return
	}
	s.RecentEvents = append(s.RecentEvents, eventID)
	if over := len(s.RecentEvents) - recentEventLimit; over > 0 {
		s.RecentEvents = append([]string(nil), s.RecentEvents[over:]...)
	}
}

// Clone returns a deep copy so a stage can mutate without aliasing the caller.
func (s Session) Clone() Session {
	out := s
	out.Suggested = append([]Subtopic(nil), s.Suggested...)
	out.Selected = append([]string(nil), s.Selected...)
	out.Queries = append([]string(nil), s.Queries...)
	out.ResumeChoices = append([]CheckpointRef(nil), s.ResumeChoices...)
	out.RecentEvents = append([]string(nil), s.RecentEvents...)
	if s.Items != nil {
		out.Items = make([]Item, len(s.Items))
		for i, it := range s.Items {
			it.Authors = append([]string(nil), it.Authors...)
			if it.Score != nil {
				it.Score = IntPtr(*it.Score)
			}
			out.Items[i] = it
		}
	}
	if s.Artifact != nil {
		a := *s.Artifact
		out.Artifact = &a
	}
	return out
}

func filterItems(items []Item, accepted bool) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Accepted == accepted {
			out = append(out, it)
		}
	}
	return out
}
