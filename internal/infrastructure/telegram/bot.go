// Package telegram binds the workflow to a Telegram chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

const retryDelay = 3 * time.Second

// Bot implements the conversation and progress ports and runs the update loop.
type Bot struct {
	api         *Client
	pollTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	progress map[string]*statusMessage
}

// statusMessage is the progress message of one chat. Its lock is held across
// API calls so updates of a chat stay ordered without stalling other chats.
type statusMessage struct {
	mu sync.Mutex
	id int64
}

var (
	_ ports.Conversation = (*Bot)(nil)
	_ ports.ProgressSink = (*Bot)(nil)
)

// NewBot wraps an API client.
func NewBot(api *Client, pollTimeout time.Duration, logger *zap.Logger) *Bot {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:         api,
		pollTimeout: pollTimeout,
		logger:      logger.With(zap.String("component", "telegram")),
		progress:    map[string]*statusMessage{},
	}
}

// Send delivers one outbound message. A document goes out after its text.
func (b *Bot) Send(ctx context.Context, chat string, msg domain.Message) error {
	if msg.Text != "" || len(msg.Options) > 0 {
		text := msg.Text
		if text == "" {
			text = "Choose:"
		}
		if _, err := b.api.SendMessage(ctx, chat, text, msg.Options); err != nil {
			return err
		}
	}
	if msg.Document != nil {
		return b.api.SendDocument(ctx, chat, *msg.Document)
	}
	return nil
}

// Progress keeps one status message per chat: sent on the first update,
// edited afterwards and deleted when the stage is done. Failures are logged.
// Updates of one chat are serialized so a late first send cannot outlive its
// Done; different chats never wait on each other.
func (b *Bot) Progress(ctx context.Context, chat string, update domain.Progress) {
	b.mu.Lock()
	st, ok := b.progress[chat]
	if !ok {
		st = &statusMessage{}
		b.progress[chat] = st
	}
	b.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	var err error
	switch {
	case update.Done:
		if st.id != 0 {
			err = b.api.DeleteMessage(ctx, chat, st.id)
			st.id = 0
		}
	case st.id != 0:
		err = b.api.EditMessageText(ctx, chat, st.id, progressText(update))
	default:
		var id int64
		id, err = b.api.SendMessage(ctx, chat, progressText(update), nil)
		if err == nil {
			st.id = id
		}
	}
	if err != nil {
		b.logger.Debug("progress update failed", zap.String("chat", chat), zap.String("stage", update.Stage), zap.Error(err))
	}
}

func progressText(p domain.Progress) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s... (%s)", capitalize(p.Stage), p.Elapsed.Truncate(time.Second))
	if p.Detail != "" {
		fmt.Fprintf(&sb, "\n%s", p.Detail)
	}
	return sb.String()
}

func capitalize(s string) string {
	if s == "" {
		return "Working"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Run long-polls for updates and hands each one to submit until ctx ends.
func (b *Bot) Run(ctx context.Context, submit func(domain.Event) error) error {
	var offset int64
	b.logger.Info("polling for updates", zap.Duration("poll_timeout", b.pollTimeout))
	for {
		updates, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := retryDelay
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				delay = time.Duration(apiErr.RetryAfter) * time.Second
			}
			b.logger.Warn("getUpdates failed", zap.Duration("retry_in", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.CallbackQuery != nil {
				if err := b.api.AnswerCallbackQuery(ctx, u.CallbackQuery.ID); err != nil {
					b.logger.Debug("answerCallbackQuery failed", zap.Error(err))
				}
			}
			ev, ok := ToEvent(u)
			if !ok {
				continue
			}
			if err := submit(ev); err != nil {
				b.logger.Warn("event rejected", zap.String("chat", ev.Chat), zap.Error(err))
				return err
			}
		}
	}
}

// ToEvent maps an update to a workflow event. Updates without text or
// callback data are ignored.
func ToEvent(u Update) (domain.Event, bool) {
	ev := domain.Event{ID: strconv.FormatInt(u.UpdateID, 10)}

	if cq := u.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Data == "" {
			return domain.Event{}, false
		}
		ev.Chat = strconv.FormatInt(cq.Message.Chat.ID, 10)
		ev.Kind = domain.EventSelect
		ev.Choice = cq.Data
		return ev, true
	}

	msg := u.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return domain.Event{}, false
	}
	ev.Chat = strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		ev.Kind = domain.EventText
		ev.Text = text
		return ev, true
	}

	command, arg, _ := strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")
	switch strings.ToLower(command) {
	case "/start":
		ev.Kind = domain.EventStart
	case "/cancel":
		ev.Kind = domain.EventCancel
	case "/resume":
		ev.Kind = domain.EventResume
		ev.Text = strings.TrimSpace(arg)
	default:
		ev.Kind = domain.EventHelp
	}
	return ev, true
}
