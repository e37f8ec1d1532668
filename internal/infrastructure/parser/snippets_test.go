package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/config"
)

func TestSnippetPageURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://s.example/blog?q=acid+reflux", snippetPageURL("https://s.example/blog?q=%s", "acid reflux", 0))
	assert.Equal(t, "https://s.example/blog?q=acid+reflux&start=11", snippetPageURL("https://s.example/blog?q=%s", "acid reflux", 1))
	assert.Equal(t, "https://s.example/fixed?start=21", snippetPageURL("https://s.example/fixed", "x", 2))
}

func TestSnippetScraperCollectsDistinctSnippets(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") != "" {
			_, _ = fmt.Fprint(w, `<div><p class="dsc">Sleeping on the left side eased my heartburn</p></div>`)
			return
		}
		_, _ = fmt.Fprint(w, `<div>
			<p class="dsc">Cutting coffee helped my reflux a lot</p>
			<p class="dsc">Cutting   coffee helped my reflux a lot</p>
			<p class="dsc">ok</p>
			<p class="other">ignored paragraph text</p>
		</div>`)
	}))
	defer server.Close()

	s := NewSnippetScraper(config.TopicsConfig{
		SearchURL: server.URL + "/search?q=%s",
		Selector:  "p.dsc",
		MaxPages:  2,
		Limit:     10,
	}, server.Client(), nil)

	got, err := s.Scrape(context.Background(), "acid reflux")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Cutting coffee helped my reflux a lot",
		"Sleeping on the left side eased my heartburn",
	}, got)
}

func TestSnippetScraperHonoursLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			_, _ = fmt.Fprintf(w, `<p class="dsc">snippet number %d about reflux</p>`, i)
		}
	}))
	defer server.Close()

	s := NewSnippetScraper(config.TopicsConfig{SearchURL: server.URL + "/?q=%s", Selector: "p.dsc", MaxPages: 3, Limit: 2}, server.Client(), nil)
	got, err := s.Scrape(context.Background(), "reflux")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSnippetScraperWithoutConfigurationIsEmpty(t *testing.T) {
	t.Parallel()

	got, err := NewSnippetScraper(config.TopicsConfig{}, nil, nil).Scrape(context.Background(), "reflux")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnippetScraperFirstPageFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewSnippetScraper(config.TopicsConfig{SearchURL: server.URL + "/?q=%s", Selector: "p"}, server.Client(), nil)
	_, err := s.Scrape(context.Background(), "reflux")
	require.Error(t, err)
}
