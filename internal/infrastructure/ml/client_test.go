package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

func request() ports.ScoreRequest {
	return ports.ScoreRequest{
		Topic:     "acid reflux",
		Subtopics: []string{"Diet"},
		Items: []domain.Item{
			{ID: "1", Title: "Late meals", Summary: "s1"},
			{ID: "2", Title: "Sleep", Summary: "s2"},
		},
	}
}

func TestScoreBatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var payload scorePayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "acid reflux", payload.Topic)
		assert.Len(t, payload.Items, 2)

		_, _ = w.Write([]byte(`{"scores":[{"id":"1","score":81.6,"accept":true},{"id":"zzz","score":90},{"id":"2","score":12}]}`))
	}))
	defer srv.Close()

	scores, err := NewClient(srv.URL+"/", "k").ScoreBatch(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []domain.Score{{ID: "1", Value: 82, Accept: true}, {ID: "2", Value: 12}}, scores)
}

func TestScoreBatchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"overloaded", http.StatusServiceUnavailable, "", domain.ErrTransient},
		{"throttled", http.StatusTooManyRequests, "", domain.ErrTransient},
		{"garbage", http.StatusOK, "<html>", domain.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "").ScoreBatch(context.Background(), request())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestScoreBatchRejectedRequestIsNotRecoverable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").ScoreBatch(context.Background(), request())
	require.Error(t, err)
	assert.False(t, domain.Recoverable(err))
}
