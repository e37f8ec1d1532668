// Package workflow implements the session state machine that drives the
// search, scoring and generation stages from conversational events.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/metrics"
	"PaperBlogBot/internal/ports"
	"PaperBlogBot/internal/progress"
	"PaperBlogBot/internal/usecase"
)

const checkpointWriteTimeout = 10 * time.Second

// SearchPipeline runs aggregation, enrichment and scoring.
type SearchPipeline interface {
	Run(ctx context.Context, req usecase.PipelineRequest, report func(string)) (usecase.PipelineResult, error)
}

// Config carries stage timeouts and presentation limits.
type Config struct {
	SuggestTimeout    time.Duration
	GenerationTimeout time.Duration
	ProgressInterval  time.Duration
	ResumeListLimit   int
}

// Deps wires the machine to its collaborators. Suggester, Generator and Store
// are optional; missing ones degrade to empty suggestions, a generation error
// and no checkpoints respectively.
type Deps struct {
	Suggester ports.SubtopicSuggester
	Pipeline  SearchPipeline
	Generator ports.Generator
	Store     ports.CheckpointStore
	Config    Config
	Logger    *zap.Logger
	Metrics   *metrics.Collector

	Now   func() time.Time
	NewID func() string
	Intn  func(n int) int
}

// ProgressFunc receives liveness updates for the chat being handled.
type ProgressFunc func(domain.Progress)

// Result is the outcome of one transition.
type Result struct {
	Session  domain.Session
	Messages []domain.Message
}

// Machine applies events to sessions. It holds no per-session state; the
// caller owns the Session value and serializes events per session.
type Machine struct {
	suggester ports.SubtopicSuggester
	pipeline  SearchPipeline
	generator ports.Generator
	store     ports.CheckpointStore
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Collector
	now       func() time.Time
	newID     func() string
	intn      func(int) int
}

// NewMachine constructs the state machine.
func NewMachine(deps Deps) *Machine {
	m := &Machine{
		suggester: deps.Suggester,
		pipeline:  deps.Pipeline,
		generator: deps.Generator,
		store:     deps.Store,
		cfg:       deps.Config,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
		newID:     deps.NewID,
		intn:      deps.Intn,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.With(zap.String("component", "workflow"))
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.intn == nil {
		m.intn = rand.IntN
	}
	if m.cfg.ResumeListLimit <= 0 {
		m.cfg.ResumeListLimit = 5
	}
	return m
}

// Handle applies one event. Re-delivered events are ignored. Faults never
// escape: a panic inside a transition moves the session to Failed.
func (m *Machine) Handle(ctx context.Context, s domain.Session, ev domain.Event, onProgress ProgressFunc) (res Result) {
	if s.Seen(ev.ID) {
		m.metrics.Event(ev.Kind, "duplicate")
		m.logger.Debug("dropping re-delivered event", zap.String("event_id", ev.ID), zap.String("chat", ev.Chat))
		return Result{Session: s}
	}

	s = s.Clone()
	if s.Owner == "" {
		s.Owner = ev.Chat
	}
	if s.Stage == "" {
		s.Stage = domain.StateAwaitingTopic
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("transition panicked",
				zap.String("session_id", s.ID),
				zap.String("stage", string(s.Stage)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			m.metrics.Transition(s.Stage, domain.StateFailed)
			s.Stage = domain.StateFailed
			s.LastError = fmt.Sprint(r)
			s.Remember(ev.ID)
			m.metrics.Event(ev.Kind, "failed")
			res = Result{Session: s, Messages: []domain.Message{failedMessage()}}
		}
	}()

	t := &turn{m: m, ctx: ctx, s: &s, progress: onProgress}
	msgs := t.apply(ev)
	s.Remember(ev.ID)
	m.metrics.Event(ev.Kind, "applied")
	return Result{Session: s, Messages: msgs}
}

// turn carries the state of one Handle call.
type turn struct {
	m        *Machine
	ctx      context.Context
	s        *domain.Session
	progress ProgressFunc
}

func (t *turn) apply(ev domain.Event) []domain.Message {
	switch ev.Kind {
	case domain.EventStart:
		return t.start()
	case domain.EventHelp:
		return []domain.Message{helpMessage()}
	case domain.EventCancel:
		return t.cancel()
	case domain.EventResume:
		return t.resume(strings.TrimSpace(ev.Text))
	case domain.EventSelect:
		return t.selectOption(strings.TrimSpace(ev.Choice))
	case domain.EventText:
		return t.text(strings.TrimSpace(ev.Text))
	default:
		return []domain.Message{helpMessage()}
	}
}

func (t *turn) moveTo(to domain.State) {
	from := t.s.Stage
	if !domain.CanTransition(from, to) {
		// Recovered by Handle and reported as Failed.
		panic(domain.ErrInvalidTransition{From: from, To: to})
	}
	t.s.Stage = to
	if from != to {
		t.m.metrics.Transition(from, to)
		t.m.logger.Info("transition",
			zap.String("session_id", t.s.ID),
			zap.String("topic", t.s.Topic),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
}

// reset opens a new chain for the same owner.
func (t *turn) reset() {
	fresh := domain.NewSession(t.s.Owner)
	fresh.RecentEvents = t.s.RecentEvents
	*t.s = fresh
}

func (t *turn) start() []domain.Message {
	t.reset()
	return []domain.Message{welcomeMessage()}
}

func (t *turn) text(text string) []domain.Message {
	if text == "" {
		return []domain.Message{t.currentPrompt()}
	}
	switch t.s.Stage {
	case domain.StateAwaitingTopic, domain.StateCompleted, domain.StateCancelled, domain.StateFailed:
		return t.startTopic(text)
	default:
		return []domain.Message{domain.Text("Please use the options above, or send /start for a new topic."), t.currentPrompt()}
	}
}

func (t *turn) currentPrompt() domain.Message {
	switch t.s.Stage {
	case domain.StateSelectingSubtopics:
		return subtopicMenu(*t.s)
	case domain.StateSelectingStyle:
		return styleMenu()
	case domain.StateConfirmingGeneration:
		return confirmMenu(*t.s)
	case domain.StateSelectingCheckpoint:
		return resumeMenu(t.s.ResumeChoices)
	default:
		return domain.Text("Send a topic to start.")
	}
}

func (t *turn) startTopic(topic string) []domain.Message {
	t.reset()
	t.s.ID = t.m.newID()
	t.s.CreatedAt = t.m.now()
	t.s.Topic = topic
	t.s.TopicQuery = topic

	suggestion, err := t.suggest(topic)
	if err != nil {
		return t.cancelled()
	}
	if q := strings.TrimSpace(suggestion.TopicQuery); q != "" {
		t.s.TopicQuery = q
	}
	t.s.Suggested = suggestion.Subtopics

	t.moveTo(domain.StateSelectingSubtopics)
	t.checkpoint(domain.LabelSubtopicsSuggested)
	return []domain.Message{subtopicMenu(*t.s)}
}

// suggest degrades every failure except user cancellation to an empty list.
func (t *turn) suggest(topic string) (ports.Suggestion, error) {
	if t.m.suggester == nil {
		return ports.Suggestion{}, nil
	}
	suggestion, err := runStage(t, "analyzing topic", t.m.cfg.SuggestTimeout, func(ctx context.Context, report func(string)) (ports.Suggestion, error) {
		return t.m.suggester.Suggest(ctx, topic)
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserCancelled) {
			return ports.Suggestion{}, err
		}
		t.m.metrics.Fallback("suggest", "error")
		t.m.logger.Warn("sub-topic suggestion failed", zap.String("topic", topic), zap.Error(err))
		return ports.Suggestion{}, nil
	}
	return suggestion, nil
}

func (t *turn) selectOption(data string) []domain.Message {
	switch {
	case strings.HasPrefix(data, dataSubPrefix):
		if t.s.Stage != domain.StateSelectingSubtopics {
			return t.stale()
		}
		return t.subtopic(data)
	case strings.HasPrefix(data, dataStylePrefix):
		if t.s.Stage != domain.StateSelectingStyle {
			return t.stale()
		}
		return t.style(strings.TrimPrefix(data, dataStylePrefix))
	case strings.HasPrefix(data, "confirm:"):
		if t.s.Stage != domain.StateConfirmingGeneration {
			return t.stale()
		}
		return t.confirm(data)
	case strings.HasPrefix(data, dataResumePrefix):
		if t.s.Stage != domain.StateSelectingCheckpoint {
			return t.stale()
		}
		return t.resumeChoice(data)
	default:
		return t.stale()
	}
}

func (t *turn) stale() []domain.Message {
	return []domain.Message{domain.Text("That option is no longer active."), t.currentPrompt()}
}

func (t *turn) subtopic(data string) []domain.Message {
	switch data {
	case dataSubAll:
		t.s.Selected = t.s.Selected[:0]
		for _, sub := range t.s.Suggested {
			t.s.Selected = append(t.s.Selected, sub.Name)
		}
		return []domain.Message{subtopicMenu(*t.s)}
	case dataSubDone:
		return t.search()
	case dataSubSkip:
		t.s.Selected = nil
		return t.search()
	}

	idx, err := strconv.Atoi(strings.TrimPrefix(data, dataSubPrefix))
	if err != nil || idx < 0 || idx >= len(t.s.Suggested) {
		return t.stale()
	}
	t.s.Toggle(t.s.Suggested[idx].Name)
	return []domain.Message{subtopicMenu(*t.s)}
}

func (t *turn) search() []domain.Message {
	if t.m.pipeline == nil {
		panic("workflow: search pipeline is not configured")
	}
	t.moveTo(domain.StateSearchingAndScoring)
	t.s.Items, t.s.Queries, t.s.FellBack, t.s.LastError = nil, nil, false, ""

	req := usecase.PipelineRequest{
		Topic:      t.s.Topic,
		TopicQuery: t.s.TopicQuery,
		Subtopics:  t.s.SelectedSubtopics(),
	}
	res, err := runStage(t, "searching papers", 0, func(ctx context.Context, report func(string)) (usecase.PipelineResult, error) {
		return t.m.pipeline.Run(ctx, req, report)
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserCancelled) {
			return t.cancelled()
		}
		t.m.logger.Warn("search stage failed", zap.String("session_id", t.s.ID), zap.Error(err))
		t.s.LastError = err.Error()
		t.moveTo(domain.StateFailed)
		return []domain.Message{searchFailedMessage(*t.s, "The search could not finish.")}
	}
	if len(res.Items) == 0 {
		t.s.Queries = res.Queries
		t.s.LastError = "no papers found"
		t.moveTo(domain.StateFailed)
		return []domain.Message{searchFailedMessage(*t.s, "No papers were found for this selection.")}
	}

	t.s.Items = res.Items
	t.s.Queries = res.Queries
	t.s.FellBack = res.FellBack
	t.moveTo(domain.StateSelectingStyle)
	t.checkpoint(domain.LabelCandidatesScored)

	return append(searchSummary(*t.s, res), styleMenu())
}

func (t *turn) style(id string) []domain.Message {
	var st domain.Style
	if id == strings.TrimPrefix(dataStyleRandom, dataStylePrefix) {
		st = domain.Styles[t.m.intn(len(domain.Styles))]
	} else {
		found, ok := domain.StyleByID(id)
		if !ok {
			return t.stale()
		}
		st = found
	}
	t.s.Style = st.ID
	t.s.LastError = ""
	t.moveTo(domain.StateConfirmingGeneration)
	t.checkpoint(domain.LabelStyleSelected)
	return []domain.Message{confirmMenu(*t.s)}
}

func (t *turn) confirm(data string) []domain.Message {
	switch data {
	case dataConfirmYes:
		return t.generate()
	case dataConfirmStyle:
		t.s.LastError = ""
		t.moveTo(domain.StateSelectingStyle)
		return []domain.Message{styleMenu()}
	case dataConfirmCancel:
		return t.cancel()
	default:
		return t.stale()
	}
}

func (t *turn) generate() []domain.Message {
	t.checkpoint(domain.LabelGenerationStarted)

	st, ok := domain.StyleByID(t.s.Style)
	if !ok {
		st = domain.DefaultStyle()
	}
	items := t.s.Accepted()
	if len(items) == 0 {
		items = t.s.Items
	}
	subNames := make([]string, 0, len(t.s.Selected))
	for _, sub := range t.s.SelectedSubtopics() {
		subNames = append(subNames, sub.Name)
	}
	req := ports.GenerateRequest{
		Topic:      t.s.Topic,
		TopicQuery: t.s.TopicQuery,
		Subtopics:  subNames,
		Items:      items,
		Style:      st,
	}

	doc, err := runStage(t, "writing post", t.m.cfg.GenerationTimeout, func(ctx context.Context, report func(string)) (ports.GeneratedDocument, error) {
		if t.m.generator == nil {
			return ports.GeneratedDocument{}, errors.New("no generator configured")
		}
		return t.m.generator.Generate(ctx, req)
	})
	if err == nil && strings.TrimSpace(doc.Body) == "" {
		err = domain.Malformed("generate", errors.New("empty document"))
	}
	if err != nil {
		if errors.Is(err, domain.ErrUserCancelled) {
			return t.cancelled()
		}
		t.m.metrics.Fallback("generate", "error")
		t.m.logger.Warn("generation failed", zap.String("session_id", t.s.ID), zap.Error(err))
		t.s.LastError = userError(err)
		return []domain.Message{confirmMenu(*t.s)}
	}

	format := doc.Format
	if format == "" {
		format = "html"
	}
	document := &domain.Document{
		Name:    documentName(t.s.Topic, st.ID, format),
		Body:    []byte(doc.Body),
		Caption: doc.Title,
	}
	t.s.Artifact = &domain.Artifact{
		Name:      document.Name,
		Format:    format,
		Size:      len(document.Body),
		CreatedAt: t.m.now(),
	}
	t.s.LastError = ""
	t.moveTo(domain.StateCompleted)
	t.checkpoint(domain.LabelCompleted)
	return []domain.Message{completedMessage(*t.s, document)}
}

func (t *turn) cancel() []domain.Message {
	switch t.s.Stage {
	case domain.StateCancelled:
		return nil
	case domain.StateCompleted, domain.StateFailed:
		return []domain.Message{domain.Text("Nothing to cancel. Send a topic to start.")}
	}
	return t.cancelled()
}

// cancelled tears down the working state; checkpoint history is untouched.
func (t *turn) cancelled() []domain.Message {
	t.moveTo(domain.StateCancelled)
	t.s.Suggested, t.s.Selected, t.s.Items, t.s.ResumeChoices = nil, nil, nil, nil
	t.s.LastError = ""
	return []domain.Message{cancelledMessage()}
}

func (t *turn) resume(topic string) []domain.Message {
	if t.m.store == nil {
		return []domain.Message{domain.Text("Saved sessions are not enabled.")}
	}
	if topic != "" {
		rec, err := t.m.store.Latest(t.ctx, topic)
		if err != nil {
			return t.storeError(err, fmt.Sprintf("No saved sessions for %q.", topic))
		}
		t.reset()
		t.s.Stage = domain.StateSelectingCheckpoint
		return t.restore(rec)
	}

	recs, err := t.m.store.Recent(t.ctx, t.m.cfg.ResumeListLimit)
	if err != nil {
		return t.storeError(err, "No saved sessions yet.")
	}
	if len(recs) == 0 {
		return []domain.Message{domain.Text("No saved sessions yet.")}
	}
	refs := make([]domain.CheckpointRef, 0, len(recs))
	for _, rec := range recs {
		restored, _, _ := DecodeSnapshot(rec)
		refs = append(refs, rec.Ref(len(restored.Items)))
	}
	t.reset()
	t.s.Stage = domain.StateSelectingCheckpoint
	t.s.ResumeChoices = refs
	return []domain.Message{resumeMenu(refs)}
}

func (t *turn) storeError(err error, notFound string) []domain.Message {
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Message{domain.Text(notFound)}
	}
	t.m.logger.Warn("checkpoint lookup failed", zap.Error(err))
	return []domain.Message{domain.Text("Saved sessions are unavailable right now. Please try again later.")}
}

func (t *turn) resumeChoice(data string) []domain.Message {
	if data == dataResumeCancel {
		t.s.ResumeChoices = nil
		t.moveTo(domain.StateAwaitingTopic)
		return []domain.Message{domain.Text("Send a topic to start.")}
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(data, dataResumePrefix))
	if err != nil || idx < 0 || idx >= len(t.s.ResumeChoices) {
		return t.stale()
	}
	ref := t.s.ResumeChoices[idx]
	rec, err := t.m.store.LatestForSession(t.ctx, ref.Topic, ref.SessionID)
	if err != nil {
		msgs := t.storeError(err, "That saved session is gone.")
		return append(msgs, resumeMenu(t.s.ResumeChoices))
	}
	return t.restore(rec)
}

// restore rebuilds the session from rec and re-enters the chain after the
// checkpoint's stage. No external stage runs here.
func (t *turn) restore(rec domain.CheckpointRecord) []domain.Message {
	restored, drift, err := DecodeSnapshot(rec)
	if err != nil || len(drift) > 0 {
		t.m.metrics.Fallback("resume", "drift")
		t.m.logger.Warn("checkpoint drift recovered with defaults",
			zap.String("topic", rec.Topic),
			zap.String("session_id", rec.SessionID),
			zap.String("label", rec.Stage),
			zap.Strings("drift", drift),
			zap.Error(err),
		)
	}
	target := ResumeState(rec.Stage, restored)
	if target == domain.StateConfirmingGeneration && restored.Style == "" {
		restored.Style = domain.DefaultStyle().ID
	}

	restored.Owner = t.s.Owner
	restored.RecentEvents = t.s.RecentEvents
	restored.Stage = domain.StateSelectingCheckpoint
	*t.s = restored
	t.moveTo(target)
	return resumedMessages(*t.s, drift)
}

func (t *turn) checkpoint(label string) {
	if t.m.store == nil {
		return
	}
	snap, err := EncodeSnapshot(*t.s)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), checkpointWriteTimeout)
		defer cancel()
		_, err = t.m.store.Write(ctx, domain.CheckpointRecord{
			Topic:     t.s.Topic,
			SessionID: t.s.ID,
			Stage:     label,
			Snapshot:  snap,
			CreatedAt: t.m.now(),
		})
	}
	t.m.metrics.CheckpointWrite(label, err)
	if err != nil {
		t.m.logger.Warn("checkpoint write failed",
			zap.String("session_id", t.s.ID),
			zap.String("label", label),
			zap.Error(err),
		)
	}
}

// runStage runs fn off the caller's goroutine with a progress reporter bound to
// its completion. User cancellation returns at once, without waiting for fn.
func runStage[T any](t *turn, stage string, timeout time.Duration, fn func(context.Context, func(string)) (T, error)) (T, error) {
	ctx := t.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var emit progress.EmitFunc
	if t.progress != nil {
		emit = progress.EmitFunc(t.progress)
	}
	started := time.Now()
	reporter := progress.Start(ctx, t.m.cfg.ProgressInterval, stage, emit, t.m.logger)
	defer reporter.Stop()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s: panic: %v", stage, r)}
			}
		}()
		v, err := fn(ctx, reporter.Report)
		done <- outcome{v: v, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		select {
		case o = <-done:
		default:
			o.err = ctx.Err()
		}
	}
	if o.err != nil {
		switch {
		case domain.CancelledByUser(t.ctx):
			o.err = fmt.Errorf("%s: %w", stage, domain.ErrUserCancelled)
		case errors.Is(o.err, context.DeadlineExceeded):
			o.err = domain.Transient(stage, o.err)
		}
	}
	t.m.metrics.ObserveStage(stage, time.Since(started), o.err)
	return o.v, o.err
}

func userError(err error) string {
	switch {
	case errors.Is(err, domain.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return "the writing service did not respond in time"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "the writing service returned an unusable document"
	default:
		return "the writing service failed"
	}
}

func documentName(topic, style, format string) string {
	slug := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return '_'
	}, strings.TrimSpace(topic))
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "post"
	}
	return fmt.Sprintf("%s_%s.%s", slug, style, format)
}
