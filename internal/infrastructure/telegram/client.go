package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"PaperBlogBot/internal/domain"
)

// Client is a minimal Bot API client covering what the conversation needs.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient registers the bot token. apiURL defaults to the public endpoint.
// pollTimeout is the long-poll window; the HTTP timeout leaves room above it.
func NewClient(apiURL, botToken string, pollTimeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &Client{
		baseURL: fmt.Sprintf("%s/bot%s", strings.TrimRight(apiURL, "/"), botToken),
		client:  &http.Client{Timeout: pollTimeout + 30*time.Second},
	}
}

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Update is one inbound Bot API update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *IncomingMsg   `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// IncomingMsg is the subset of a message the bot reads.
type IncomingMsg struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery is an inline keyboard press.
type CallbackQuery struct {
	ID      string       `json:"id"`
	Data    string       `json:"data"`
	Message *IncomingMsg `json:"message"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	form := url.Values{}
	form.Set("offset", strconv.FormatInt(offset, 10))
	form.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	form.Set("allowed_updates", `["message","callback_query"]`)

	var updates []Update
	if err := c.call(ctx, "getUpdates", form, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts text with an optional inline keyboard and returns the message id.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, options [][]domain.Option) (int64, error) {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	if len(options) > 0 {
		markup, err := keyboard(options)
		if err != nil {
			return 0, err
		}
		form.Set("reply_markup", markup)
	}

	var sent IncomingMsg
	if err := c.call(ctx, "sendMessage", form, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessageText replaces the text of a sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID string, messageID int64, text string) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("message_id", strconv.FormatInt(messageID, 10))
	form.Set("text", text)
	return c.call(ctx, "editMessageText", form, nil)
}

// DeleteMessage removes a sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID string, messageID int64) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("message_id", strconv.FormatInt(messageID, 10))
	return c.call(ctx, "deleteMessage", form, nil)
}

// AnswerCallbackQuery stops the client-side spinner on a pressed button.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id string) error {
	form := url.Values{}
	form.Set("callback_query_id", id)
	return c.call(ctx, "answerCallbackQuery", form, nil)
}

// SendDocument uploads a file with a caption.
func (c *Client) SendDocument(ctx context.Context, chatID string, doc domain.Document) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("write chat_id: %w", err)
	}
	if doc.Caption != "" {
		if err := w.WriteField("caption", doc.Caption); err != nil {
			return fmt.Errorf("write caption: %w", err)
		}
	}
	part, err := w.CreateFormFile("document", doc.Name)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(doc.Body); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return c.do(ctx, "sendDocument", w.FormDataContentType(), &body, nil)
}

func (c *Client) call(ctx context.Context, method string, form url.Values, out any) error {
	return c.do(ctx, method, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), out)
}

func (c *Client) do(ctx context.Context, method, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		// The token is part of the URL; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return domain.Transient("telegram "+method, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return domain.Transient("telegram "+method, fmt.Errorf("status %s", resp.Status))
		}
		return domain.Malformed("telegram "+method, err)
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description, RetryAfter: env.Parameters.RetryAfter}
		if env.ErrorCode == http.StatusTooManyRequests || env.ErrorCode >= http.StatusInternalServerError {
			return domain.Transient("telegram "+method, apiErr)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return domain.Malformed("telegram "+method, err)
	}
	return nil
}

func keyboard(options [][]domain.Option) (string, error) {
	kb := inlineKeyboard{InlineKeyboard: make([][]inlineButton, 0, len(options))}
	for _, row := range options {
		buttons := make([]inlineButton, 0, len(row))
		for _, o := range row {
			buttons = append(buttons, inlineButton{Text: o.Label, CallbackData: o.Data})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, buttons)
	}
	raw, err := json.Marshal(kb)
	if err != nil {
		return "", fmt.Errorf("marshal keyboard: %w", err)
	}
	return string(raw), nil
}
