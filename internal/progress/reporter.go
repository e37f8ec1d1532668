// Package progress emits periodic liveness updates while a long stage runs.
package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
)

// EmitFunc receives each update. It is only called from the reporter's own
// goroutine, so calls never overlap and a slow sink never blocks the stage.
type EmitFunc func(domain.Progress)

// Reporter is a ticker goroutine bound to one stage. Stop must be called when
// the stage ends; it is safe to call more than once.
type Reporter struct {
	stage    string
	emit     EmitFunc
	logger   *zap.Logger
	started  time.Time
	interval time.Duration

	mu     sync.Mutex
	detail string

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Start launches the reporter. The first update is emitted right away so the
// operator sees the stage began.
func Start(ctx context.Context, interval time.Duration, stage string, emit EmitFunc, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	r := &Reporter{
		stage:    stage,
		emit:     emit,
		logger:   logger,
		started:  time.Now(),
		interval: interval,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.loop(ctx)
	return r
}

// loop owns every emit. Done is always the last update it sends.
func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)
	defer r.send(true)

	r.send(false)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.send(false)
		case <-r.kick:
			r.send(false)
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		}
	}
}

// Report replaces the detail line and asks for an update. It never waits on
// the sink; reports arriving faster than the sink drains are coalesced.
func (r *Reporter) Report(detail string) {
	r.mu.Lock()
	r.detail = detail
	r.mu.Unlock()
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Stop ends the ticker. The final Done update is emitted asynchronously;
// use Wait to block until it has been delivered.
func (r *Reporter) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// Wait blocks until the reporter goroutine has emitted Done and exited.
func (r *Reporter) Wait() {
	<-r.done
}

func (r *Reporter) send(done bool) {
	if r.emit == nil {
		return
	}
	r.mu.Lock()
	update := domain.Progress{
		Stage:   r.stage,
		Detail:  r.detail,
		Elapsed: time.Since(r.started).Truncate(time.Second),
		Done:    done,
	}
	r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("progress emit panicked", zap.String("stage", r.stage), zap.Any("panic", rec))
		}
	}()
	r.emit(update)
}

// Run executes fn with a reporter attached and stops the reporter however fn
// returns, including by panic.
func Run(ctx context.Context, interval time.Duration, stage string, emit EmitFunc, logger *zap.Logger, fn func(context.Context, *Reporter) error) error {
	r := Start(ctx, interval, stage, emit, logger)
	defer r.Stop()
	return fn(ctx, r)
}
