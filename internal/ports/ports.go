package ports

import (
	"context"

	"PaperBlogBot/internal/domain"
)

// Searcher queries a bibliographic corpus. Implementations hide any rate limiting
// and tolerate rapid repeated calls.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]domain.Item, error)
}

// Enricher fetches extended text for one item. A nil result with a nil error means
// no extended text exists, which is a normal outcome.
type Enricher interface {
	Enrich(ctx context.Context, item domain.Item) (*domain.Enrichment, error)
}

// ScoreRequest is one batch sent to a scoring service.
type ScoreRequest struct {
	Topic      string
	TopicQuery string
	Subtopics  []string
	Items      []domain.Item
}

// Scorer assigns relevance verdicts to a batch. Unparseable responses are reported
// with domain.ErrMalformedResponse.
type Scorer interface {
	ScoreBatch(ctx context.Context, req ScoreRequest) ([]domain.Score, error)
}

// GenerateRequest carries everything the generation service needs.
type GenerateRequest struct {
	Topic      string
	TopicQuery string
	Subtopics  []string
	Items      []domain.Item
	Style      domain.Style
}

// GeneratedDocument is the formatted body returned by a generator.
type GeneratedDocument struct {
	Title  string
	Format string
	Body   string
}

// Generator produces the final document.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GeneratedDocument, error)
}

// Suggestion is the outcome of topic analysis.
type Suggestion struct {
	TopicQuery string
	Subtopics  []domain.Subtopic
	Sources    int
}

// SubtopicSuggester proposes refinements for a topic.
type SubtopicSuggester interface {
	Suggest(ctx context.Context, topic string) (Suggestion, error)
}

// SubtopicExtractor turns scraped snippets into structured sub-topics (usually an LLM).
type SubtopicExtractor interface {
	Extract(ctx context.Context, topic string, snippets []string) (Suggestion, error)
}

// CheckpointStore persists session snapshots. Writes never overwrite earlier records.
type CheckpointStore interface {
	Write(ctx context.Context, rec domain.CheckpointRecord) (domain.CheckpointRecord, error)
	// Latest returns the most recent record for the topic across sessions.
	Latest(ctx context.Context, topic string) (domain.CheckpointRecord, error)
	LatestForSession(ctx context.Context, topic, sessionID string) (domain.CheckpointRecord, error)
	// Recent returns the newest record of each (topic, session), newest first.
	Recent(ctx context.Context, limit int) ([]domain.CheckpointRecord, error)
}

// Conversation delivers outbound messages to the front end.
type Conversation interface {
	Send(ctx context.Context, chat string, msg domain.Message) error
}

// ProgressSink receives liveness updates for a chat.
type ProgressSink interface {
	Progress(ctx context.Context, chat string, update domain.Progress)
}
