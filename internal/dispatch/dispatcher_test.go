package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingConversation struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (r *recordingConversation) Send(ctx context.Context, chat string, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[string][]string{}
	}
	r.sent[chat] = append(r.sent[chat], msg.Text)
	return nil
}

func (r *recordingConversation) texts(chat string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent[chat]...)
}

type handlerFunc func(ctx context.Context, s domain.Session, ev domain.Event, onProgress workflow.ProgressFunc) workflow.Result

func (f handlerFunc) Handle(ctx context.Context, s domain.Session, ev domain.Event, onProgress workflow.ProgressFunc) workflow.Result {
	return f(ctx, s, ev, onProgress)
}

// echoHandler appends the event text to the session topic and replies with it.
func echoHandler(ctx context.Context, s domain.Session, ev domain.Event, _ workflow.ProgressFunc) workflow.Result {
	s.Topic += ev.Text
	return workflow.Result{Session: s, Messages: []domain.Message{domain.Text(s.Topic)}}
}

func shutdown(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
}

func TestEventsOfOneChatAreAppliedInOrder(t *testing.T) {
	conv := &recordingConversation{}
	d := New(handlerFunc(echoHandler), conv, nil, Config{Workers: 4, IdleTTL: time.Minute}, nil, nil)

	for _, s := range []string{"a", "b", "c", "d"} {
		require.NoError(t, d.Submit(domain.Event{Chat: "1", Kind: domain.EventText, Text: s}))
	}
	require.NoError(t, d.Submit(domain.Event{Chat: "2", Kind: domain.EventText, Text: "z"}))

	require.Eventually(t, func() bool { return len(conv.texts("1")) == 4 && len(conv.texts("2")) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "ab", "abc", "abcd"}, conv.texts("1"))
	assert.Equal(t, []string{"z"}, conv.texts("2"))
	assert.Equal(t, 2, d.Active())

	shutdown(t, d)
	assert.ErrorIs(t, d.Submit(domain.Event{Chat: "1"}), ErrClosed)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	handler := handlerFunc(func(ctx context.Context, s domain.Session, ev domain.Event, _ workflow.ProgressFunc) workflow.Result {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return workflow.Result{Session: s, Messages: []domain.Message{domain.Text("ok")}}
	})
	conv := &recordingConversation{}
	d := New(handler, conv, nil, Config{Workers: 2, IdleTTL: time.Minute}, nil, nil)

	chats := []string{"1", "2", "3", "4", "5", "6"}
	for _, chat := range chats {
		require.NoError(t, d.Submit(domain.Event{Chat: chat, Kind: domain.EventText}))
	}
	require.Eventually(t, func() bool {
		for _, chat := range chats {
			if len(conv.texts(chat)) != 1 {
				return false
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	shutdown(t, d)
}

func TestCancelPreemptsInFlightTransition(t *testing.T) {
	started := make(chan struct{})
	var causes []error
	var mu sync.Mutex
	handler := handlerFunc(func(ctx context.Context, s domain.Session, ev domain.Event, _ workflow.ProgressFunc) workflow.Result {
		if ev.Kind == domain.EventCancel {
			return workflow.Result{Session: s}
		}
		close(started)
		<-ctx.Done()
		mu.Lock()
		causes = append(causes, context.Cause(ctx))
		mu.Unlock()
		s.Stage = domain.StateCancelled
		return workflow.Result{Session: s, Messages: []domain.Message{domain.Text("Cancelled.")}}
	})
	conv := &recordingConversation{}
	d := New(handler, conv, nil, Config{Workers: 1, IdleTTL: time.Minute}, nil, nil)

	require.NoError(t, d.Submit(domain.Event{Chat: "1", Kind: domain.EventSelect, Choice: "sub:done"}))
	<-started
	require.NoError(t, d.Submit(domain.Event{Chat: "1", Kind: domain.EventCancel}))

	require.Eventually(t, func() bool { return len(conv.texts("1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Len(t, causes, 1)
	assert.ErrorIs(t, causes[0], domain.ErrUserCancelled)
	mu.Unlock()
	shutdown(t, d)
}

func TestIdleMailboxIsEvicted(t *testing.T) {
	conv := &recordingConversation{}
	d := New(handlerFunc(echoHandler), conv, nil, Config{Workers: 1, IdleTTL: 30 * time.Millisecond}, nil, nil)

	require.NoError(t, d.Submit(domain.Event{Chat: "1", Kind: domain.EventText, Text: "a"}))
	require.Eventually(t, func() bool { return d.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	// A new mailbox starts from a fresh session.
	require.NoError(t, d.Submit(domain.Event{Chat: "1", Kind: domain.EventText, Text: "b"}))
	require.Eventually(t, func() bool { return len(conv.texts("1")) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, conv.texts("1"))
	shutdown(t, d)
}

type recordingSink struct {
	mu      sync.Mutex
	updates []domain.Progress
}

func (r *recordingSink) Progress(ctx context.Context, chat string, update domain.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func TestProgressIsForwardedToSink(t *testing.T) {
	sink := &recordingSink{}
	handler := handlerFunc(func(ctx context.Context, s domain.Session, ev domain.Event, onProgress workflow.ProgressFunc) workflow.Result {
		onProgress(domain.Progress{Stage: "searching papers"})
		onProgress(domain.Progress{Stage: "searching papers", Done: true})
		return workflow.Result{Session: s}
	})
	d := New(handler, &recordingConversation{}, sink, Config{Workers: 1}, nil, nil)

	require.NoError(t, d.Submit(domain.Event{Chat: "1", Kind: domain.EventText}))
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.updates) == 2
	}, 2*time.Second, 5*time.Millisecond)
	shutdown(t, d)
}

func TestDrainWaitsForQueuedEvents(t *testing.T) {
	conv := &recordingConversation{}
	handler := handlerFunc(func(ctx context.Context, s domain.Session, ev domain.Event, p workflow.ProgressFunc) workflow.Result {
		time.Sleep(10 * time.Millisecond)
		return echoHandler(ctx, s, ev, p)
	})
	d := New(handler, conv, nil, Config{Workers: 1, IdleTTL: time.Minute}, nil, nil)

	for _, s := range []string{"x", "y", "z"} {
		require.NoError(t, d.Submit(domain.Event{Chat: "1", Kind: domain.EventText, Text: s}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(ctx))
	assert.Equal(t, []string{"x", "xy", "xyz"}, conv.texts("1"))
	shutdown(t, d)
}
