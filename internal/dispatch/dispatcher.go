// Package dispatch routes inbound conversation events to per-chat mailboxes
// and runs their transitions on a bounded worker pool.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/metrics"
	"PaperBlogBot/internal/ports"
	"PaperBlogBot/internal/workflow"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("dispatcher is closed")

// Handler applies one event to a session.
type Handler interface {
	Handle(ctx context.Context, s domain.Session, ev domain.Event, onProgress workflow.ProgressFunc) workflow.Result
}

// Config bounds the pool and the mailbox lifetime.
type Config struct {
	Workers int
	IdleTTL time.Duration
}

// Dispatcher owns one mailbox goroutine per active chat. Events of a chat are
// applied in arrival order; different chats run concurrently up to Workers.
type Dispatcher struct {
	handler Handler
	conv    ports.Conversation
	sink    ports.ProgressSink
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
	sem     *semaphore.Weighted

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	mailboxes map[string]*mailbox
}

type mailbox struct {
	chat string
	wake chan struct{}

	mu       sync.Mutex
	queue    []domain.Event
	inflight context.CancelCauseFunc
	session  domain.Session
}

// New builds a dispatcher. sink may be nil.
func New(handler Handler, conv ports.Conversation, sink ports.ProgressSink, cfg Config, logger *zap.Logger, m *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 6 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:   handler,
		conv:      conv,
		sink:      sink,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "dispatch")),
		metrics:   m,
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:       ctx,
		cancel:    cancel,
		mailboxes: map[string]*mailbox{},
	}
}

// Submit queues ev for its chat. A cancel event also interrupts the
// transition currently running for that chat.
func (d *Dispatcher) Submit(ev domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	mb, ok := d.mailboxes[ev.Chat]
	if !ok {
		mb = &mailbox{
			chat:    ev.Chat,
			wake:    make(chan struct{}, 1),
			session: domain.NewSession(ev.Chat),
		}
		d.mailboxes[ev.Chat] = mb
		d.metrics.SessionOpened()
		d.wg.Add(1)
		go d.run(mb)
	}

	d.pending.Add(1)
	mb.mu.Lock()
	mb.queue = append(mb.queue, ev)
	if ev.Kind == domain.EventCancel && mb.inflight != nil {
		mb.inflight(domain.ErrUserCancelled)
		d.logger.Info("cancelling in-flight transition", zap.String("chat", ev.Chat))
	}
	mb.mu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
	return nil
}

// Active returns the number of live mailboxes.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

// Drain waits until every submitted event has been applied or ctx ends. It
// must not run concurrently with Submit.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting events, cancels running transitions and waits for
// every mailbox to exit or ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(mb *mailbox) {
	defer d.wg.Done()

	idle := time.NewTimer(d.cfg.IdleTTL)
	defer idle.Stop()

	for {
		ev, ok := mb.pop()
		if !ok {
			select {
			case <-mb.wake:
				continue
			case <-idle.C:
				if d.evict(mb) {
					return
				}
				idle.Reset(d.cfg.IdleTTL)
				continue
			case <-d.ctx.Done():
				d.drop(mb)
				return
			}
		}

		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.pending.Done()
			d.drop(mb)
			return
		}
		d.apply(mb, ev)
		d.sem.Release(1)
		d.pending.Done()

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(d.cfg.IdleTTL)
	}
}

func (d *Dispatcher) apply(mb *mailbox, ev domain.Event) {
	ctx, cancel := context.WithCancelCause(d.ctx)
	defer cancel(nil)

	mb.mu.Lock()
	mb.inflight = cancel
	session := mb.session
	mb.mu.Unlock()

	d.metrics.InflightAdd(1)
	res := d.handler.Handle(ctx, session, ev, d.progressFor(mb.chat))
	d.metrics.InflightAdd(-1)

	mb.mu.Lock()
	mb.inflight = nil
	mb.session = res.Session
	mb.mu.Unlock()

	for _, msg := range res.Messages {
		if err := d.conv.Send(d.ctx, mb.chat, msg); err != nil {
			d.logger.Warn("failed to deliver message",
				zap.String("chat", mb.chat),
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) progressFor(chat string) workflow.ProgressFunc {
	if d.sink == nil {
		return nil
	}
	return func(p domain.Progress) {
		d.sink.Progress(d.ctx, chat, p)
	}
}

// evict removes an idle mailbox unless an event raced in.
func (d *Dispatcher) evict(mb *mailbox) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.queue) > 0 {
		return false
	}
	delete(d.mailboxes, mb.chat)
	d.metrics.SessionClosed()
	d.logger.Debug("evicted idle mailbox", zap.String("chat", mb.chat), zap.String("stage", string(mb.session.Stage)))
	return true
}

// drop discards a mailbox and whatever is still queued in it.
func (d *Dispatcher) drop(mb *mailbox) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mb.mu.Lock()
	d.pending.Add(-len(mb.queue))
	mb.queue = nil
	mb.mu.Unlock()
	if d.mailboxes[mb.chat] == mb {
		delete(d.mailboxes, mb.chat)
		d.metrics.SessionClosed()
	}
}

func (mb *mailbox) pop() (domain.Event, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.queue) == 0 {
		return domain.Event{}, false
	}
	ev := mb.queue[0]
	mb.queue[0] = domain.Event{}
	mb.queue = mb.queue[1:]
	return ev, true
}
