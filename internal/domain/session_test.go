package domain

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleIsASet(t *testing.T) {
	t.Parallel()

	s := NewSession("chat")
	s.Suggested = []Subtopic{{Name: "Diet"}, {Name: "Sleep"}, {Name: "PPI"}}
	s.Toggle("PPI")
	s.Toggle("Diet")
	s.Toggle("Sleep")
	s.Toggle("Sleep")

	assert.Equal(t, []string{"PPI", "Diet"}, s.Selected)
	assert.True(t, s.IsSelected("Diet"))
	assert.False(t, s.IsSelected("Sleep"))
	assert.Equal(t, []Subtopic{{Name: "Diet"}, {Name: "PPI"}}, s.SelectedSubtopics(), "suggestion order")
}

func TestToggleDoesNotAliasCallerSlice(t *testing.T) {
	t.Parallel()

	s := Session{Selected: []string{"a", "b", "c"}}
	before := s
	s.Toggle("a")

	assert.Equal(t, []string{"b", "c"}, s.Selected)
	assert.Equal(t, []string{"a", "b", "c"}, before.Selected)
}

func TestRememberKeepsBoundedWindow(t *testing.T) {
	t.Parallel()

	var s Session
	s.Remember("")
	assert.Empty(t, s.RecentEvents)
	assert.False(t, s.Seen(""))

	for i := 0; i < recentEventLimit+10; i++ {
		s.Remember("ev-" + strconv.Itoa(i))
	}
	require.Len(t, s.RecentEvents, recentEventLimit)
	assert.False(t, s.Seen("ev-0"), "oldest ids fall out of the window")
	assert.False(t, s.Seen("ev-9"))
	assert.True(t, s.Seen("ev-10"))
	assert.True(t, s.Seen("ev-"+strconv.Itoa(recentEventLimit+9)))
}

func TestCloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	s := Session{
		Suggested:     []Subtopic{{Name: "Diet"}},
		Selected:      []string{"Diet"},
		Queries:       []string{"q"},
		Items:         []Item{{ID: "1", Authors: []string{"Kim"}, Score: IntPtr(80), Accepted: true}},
		Artifact:      &Artifact{Name: "post.html"},
		ResumeChoices: []CheckpointRef{{Topic: "t"}},
		RecentEvents:  []string{"ev-1"},
	}
	c := s.Clone()

	c.Items[0].Title = "changed"
	*c.Items[0].Score = 10
	c.Items[0].Authors[0] = "Lee"
	c.Selected[0] = "Sleep"
	c.Suggested[0].Name = "Sleep"
	c.Queries[0] = "other"
	c.Artifact.Name = "other.html"
	c.RecentEvents[0] = "ev-2"

	assert.Equal(t, "", s.Items[0].Title)
	assert.Equal(t, 80, *s.Items[0].Score)
	assert.Equal(t, "Kim", s.Items[0].Authors[0])
	assert.Equal(t, "Diet", s.Selected[0])
	assert.Equal(t, "Diet", s.Suggested[0].Name)
	assert.Equal(t, "q", s.Queries[0])
	assert.Equal(t, "post.html", s.Artifact.Name)
	assert.Equal(t, "ev-1", s.RecentEvents[0])
}

func TestAcceptedAndRejectedPartitionItems(t *testing.T) {
	t.Parallel()

	s := Session{Items: []Item{{ID: "1", Accepted: true}, {ID: "2"}, {ID: "3", Accepted: true}}}
	assert.Equal(t, []Item{{ID: "1", Accepted: true}, {ID: "3", Accepted: true}}, s.Accepted())
	assert.Equal(t, []Item{{ID: "2"}}, s.Rejected())
}
