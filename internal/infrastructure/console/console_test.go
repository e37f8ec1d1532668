package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/domain"
)

func TestRunParsesLines(t *testing.T) {
	t.Parallel()

	in := strings.NewReader("acid reflux\n\nsub:0\n/resume gout\n/cancel\n/what\n")
	c := New(in, &bytes.Buffer{}, t.TempDir(), nil)

	var got []domain.Event
	err := c.Run(context.Background(), func(ev domain.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 5)
	assert.Equal(t, domain.Event{ID: "console-1", Chat: Chat, Kind: domain.EventText, Text: "acid reflux"}, got[0])
	assert.Equal(t, domain.Event{ID: "console-2", Chat: Chat, Kind: domain.EventSelect, Choice: "sub:0"}, got[1])
	assert.Equal(t, domain.Event{ID: "console-3", Chat: Chat, Kind: domain.EventResume, Text: "gout"}, got[2])
	assert.Equal(t, domain.EventCancel, got[3].Kind)
	assert.Equal(t, domain.EventHelp, got[4].Kind)
}

func TestSendPrintsOptionsAndSavesDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out, dir, nil)

	require.NoError(t, c.Send(context.Background(), Chat, domain.Message{
		Text:    "Pick a style",
		Options: [][]domain.Option{{{Label: "Curiosity gap", Data: "style:curiosity"}}},
	}))
	require.NoError(t, c.Send(context.Background(), Chat, domain.Message{
		Document: &domain.Document{Name: "../post.html", Body: []byte("<html></html>"), Caption: "Done"},
	}))

	text := out.String()
	assert.Contains(t, text, "Pick a style\n")
	assert.Contains(t, text, "style:curiosity")
	assert.Contains(t, text, "Curiosity gap")
	assert.Contains(t, text, "(13 bytes): Done")

	raw, err := os.ReadFile(filepath.Join(dir, "post.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(raw))
}

func TestProgressLines(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(strings.NewReader(""), &out, "", nil)
	c.Progress(context.Background(), Chat, domain.Progress{Stage: "scoring", Detail: "batch 1/3", Elapsed: 2 * time.Second})
	c.Progress(context.Background(), Chat, domain.Progress{Stage: "scoring", Done: true, Elapsed: 4 * time.Second})

	assert.Equal(t, "... scoring (2s) batch 1/3\n... scoring done (4s)\n", out.String())
}
