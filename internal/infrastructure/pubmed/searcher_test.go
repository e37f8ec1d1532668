package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/config"
	"PaperBlogBot/internal/domain"
)

const esearchBody = `<?xml version="1.0" ?>
<eSearchResult><Count>3</Count><RetMax>3</RetMax>
<IdList><Id>300</Id><Id>100</Id><Id>200</Id></IdList>
</eSearchResult>`

const efetchBody = `<?xml version="1.0" ?>
<PubmedArticleSet>
 <PubmedArticle>
  <MedlineCitation>
   <PMID Version="1">100</PMID>
   <Article>
    <Journal><Title>Gut</Title><JournalIssue><PubDate><MedlineDate>2019 Jan-Feb</MedlineDate></PubDate></JournalIssue></Journal>
    <ArticleTitle>Effect of <i>late</i> meals on reflux</ArticleTitle>
    <Abstract>
     <AbstractText Label="BACKGROUND">Reflux is common.</AbstractText>
     <AbstractText Label="RESULTS">Late meals increase acid &amp; symptoms.</AbstractText>
    </Abstract>
    <AuthorList>
     <Author><LastName>Kim</LastName><Initials>J</Initials></Author>
     <Author><CollectiveName>Reflux Study Group</CollectiveName></Author>
    </AuthorList>
    <PublicationTypeList><PublicationType>Randomized Controlled Trial</PublicationType></PublicationTypeList>
   </Article>
  </MedlineCitation>
 </PubmedArticle>
 <PubmedArticle>
  <MedlineCitation>
   <PMID Version="1">300</PMID>
   <Article>
    <Journal><Title>Lancet</Title><JournalIssue><PubDate><Year>2021</Year></PubDate></JournalIssue></Journal>
    <ArticleTitle>Sleep position and GERD</ArticleTitle>
    <Abstract><AbstractText>Left side sleeping helps.</AbstractText></Abstract>
   </Article>
  </MedlineCitation>
 </PubmedArticle>
</PubmedArticleSet>`

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.PubMedConfig{BaseURL: srv.URL, Email: "ops@example.org", RatePerSecond: 1000}, srv.Client())
}

func TestSearchParsesAndKeepsRelevanceOrder(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "ops@example.org", q.Get("email"))
		assert.Equal(t, "paperblogbot", q.Get("tool"))
		switch r.URL.Path {
		case "/esearch.fcgi":
			assert.Equal(t, Term("reflux AND diet"), q.Get("term"))
			assert.Equal(t, "3", q.Get("retmax"))
			assert.Equal(t, "relevance", q.Get("sort"))
			_, _ = w.Write([]byte(esearchBody))
		case "/efetch.fcgi":
			fetches.Add(1)
			assert.Equal(t, "300,100,200", q.Get("id"))
			_, _ = w.Write([]byte(efetchBody))
		default:
			http.NotFound(w, r)
		}
	})

	items, err := NewSearcher(client, nil).Search(context.Background(), "reflux AND diet", 3)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int32(1), fetches.Load())

	assert.Equal(t, "300", items[0].ID)
	assert.Equal(t, "2021", items[0].Year)

	it := items[1]
	assert.Equal(t, "100", it.ID)
	assert.Equal(t, "Effect of late meals on reflux", it.Title)
	assert.Equal(t, "Reflux is common. Late meals increase acid & symptoms.", it.Summary)
	assert.Equal(t, []string{"Kim J", "Reflux Study Group"}, it.Authors)
	assert.Equal(t, "Gut", it.Journal)
	assert.Equal(t, "2019", it.Year)
	assert.Equal(t, "Randomized Controlled Trial", it.Kind)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/100/", it.URL)
	assert.Equal(t, domain.EnrichmentAbsent, it.Enrichment)
}

func TestSearchFetchesInBatchesOfTen(t *testing.T) {
	t.Parallel()

	var batches []int
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			var b strings.Builder
			b.WriteString("<eSearchResult><IdList>")
			for i := 1; i <= 23; i++ {
				b.WriteString("<Id>" + strings.Repeat("9", i) + "</Id>")
			}
			b.WriteString("</IdList></eSearchResult>")
			_, _ = w.Write([]byte(b.String()))
		case "/efetch.fcgi":
			batches = append(batches, len(strings.Split(r.URL.Query().Get("id"), ",")))
			_, _ = w.Write([]byte("<PubmedArticleSet></PubmedArticleSet>"))
		}
	})

	items, err := NewSearcher(client, nil).Search(context.Background(), "x", 23)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, []int{10, 10, 3}, batches)
}

func TestSearchErrorsAreClassified(t *testing.T) {
	t.Parallel()

	unavailable := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := NewSearcher(unavailable, nil).Search(context.Background(), "x", 5)
	require.ErrorIs(t, err, domain.ErrTransient)

	garbage := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<eSearchResult><IdList>"))
	})
	_, err = NewSearcher(garbage, nil).Search(context.Background(), "x", 5)
	require.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestSearchReturnsCancellationCause(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(esearchBody))
	})
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(domain.ErrUserCancelled)

	_, err := NewSearcher(client, nil).Search(ctx, "x", 3)
	require.ErrorIs(t, err, domain.ErrUserCancelled)
}

func TestKeyRaisesRateLimit(t *testing.T) {
	t.Parallel()

	c := NewClient(config.PubMedConfig{APIKey: "k"}, nil)
	assert.InDelta(t, keyedRate, float64(c.limiter.Limit()), 0.001)

	c = NewClient(config.PubMedConfig{}, nil)
	assert.InDelta(t, keylessRate, float64(c.limiter.Limit()), 0.001)
}
