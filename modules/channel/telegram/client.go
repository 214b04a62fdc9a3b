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
	"strconv"
	"time"
)

const (
	maxRetries       = 3
	initialBackoff   = time.Second
	maxResponseBytes = 10 << 20

	// MaxDownloadBytes is the largest file the Bot API lets bots download.
	MaxDownloadBytes = 20 << 20
)

// ErrFileTooLarge is returned by DownloadFile for files over MaxDownloadBytes.
var ErrFileTooLarge = errors.New("telegram: file too large to download")

// Client is a thin HTTP wrapper around the Telegram Bot API.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Telegram Bot API client.
func NewClient(token, baseURL string) *Client {
	return &Client{
		token:   token,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// requestBody builds a fresh body for each attempt.
type requestBody func() (body io.Reader, contentType string, err error)

func jsonBody(payload any) requestBody {
	return func() (io.Reader, string, error) {
		if payload == nil {
			return nil, "", nil
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// do sends a Bot API request and decodes the result. It retries 429
// answers up to maxRetries times, honouring retry_after.
func do[T any](ctx context.Context, c *Client, method string, build requestBody) (*T, error) {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	backoff := initialBackoff

	for attempt := range maxRetries {
		body, contentType, err := build()
		if err != nil {
			return nil, fmt.Errorf("telegram: encode %s request: %w", method, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return nil, fmt.Errorf("telegram: create %s request: %w", method, err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// The raw error embeds the token-bearing URL; strip it.
			var uerr interface{ Unwrap() error }
			if errors.As(err, &uerr) && uerr.Unwrap() != nil {
				err = uerr.Unwrap()
			}
			return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("telegram: read %s response: %w", method, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries-1 {
			var apiResp APIResponse[json.RawMessage]
			if err := json.Unmarshal(respBody, &apiResp); err == nil && apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
				backoff = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			continue
		}

		var apiResp APIResponse[T]
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, fmt.Errorf("telegram: decode %s response: %w", method, err)
		}
		if !apiResp.OK {
			apiErr := &APIError{Code: apiResp.ErrorCode, Description: apiResp.Description}
			if apiResp.Parameters != nil {
				apiErr.RetryAfter = apiResp.Parameters.RetryAfter
			}
			return nil, apiErr
		}
		return &apiResp.Result, nil
	}
	return nil, fmt.Errorf("telegram: %s: max retries exceeded", method)
}

// GetUpdatesRequest is the request body for the getUpdates method.
type GetUpdatesRequest struct {
	Offset         int      `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// SetWebhookRequest is the request body for the setWebhook method.
type SetWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// SendMessageRequest is the request body for the sendMessage method.
type SendMessageRequest struct {
	ChatID                int64                 `json:"chat_id"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool                  `json:"disable_notification,omitempty"`
	ReplyToMessageID      int                   `json:"reply_to_message_id,omitempty"`
	ReplyMarkup           *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// MediaMethod names a send method that takes one media field.
type MediaMethod string

// Media send methods and the form field each expects.
const (
	SendPhoto    MediaMethod = "sendPhoto"
	SendAudio    MediaMethod = "sendAudio"
	SendVoice    MediaMethod = "sendVoice"
	SendVideo    MediaMethod = "sendVideo"
	SendDocument MediaMethod = "sendDocument"
)

// Field returns the request field carrying the media.
func (m MediaMethod) Field() string {
	switch m {
	case SendPhoto:
		return "photo"
	case SendAudio:
		return "audio"
	case SendVoice:
		return "voice"
	case SendVideo:
		return "video"
	default:
		return "document"
	}
}

// SendMediaRequest describes a media message. Exactly one of Ref (a URL or
// file_id) or Data must be set; Data is uploaded as multipart.
type SendMediaRequest struct {
	ChatID              int64
	Ref                 string
	Data                []byte
	FileName            string
	Caption             string
	ParseMode           string
	DisableNotification bool
	ReplyToMessageID    int
	ReplyMarkup         *InlineKeyboardMarkup
}

// fields returns the non-media parameters as strings.
func (r SendMediaRequest) fields() (map[string]string, error) {
	f := map[string]string{"chat_id": strconv.FormatInt(r.ChatID, 10)}
	if r.Caption != "" {
		f["caption"] = r.Caption
	}
	if r.ParseMode != "" {
		f["parse_mode"] = r.ParseMode
	}
	if r.DisableNotification {
		f["disable_notification"] = "true"
	}
	if r.ReplyToMessageID != 0 {
		f["reply_to_message_id"] = strconv.Itoa(r.ReplyToMessageID)
	}
	if r.ReplyMarkup != nil {
		markup, err := json.Marshal(r.ReplyMarkup)
		if err != nil {
			return nil, err
		}
		f["reply_markup"] = string(markup)
	}
	return f, nil
}

func (r SendMediaRequest) body(field string) requestBody {
	return func() (io.Reader, string, error) {
		fields, err := r.fields()
		if err != nil {
			return nil, "", err
		}
		if len(r.Data) == 0 {
			payload := make(map[string]any, len(fields)+1)
			for k, v := range fields {
				payload[k] = v
			}
			payload[field] = r.Ref
			return jsonBody(payload)()
		}

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
		name := r.FileName
		if name == "" {
			name = field
		}
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(r.Data); err != nil {
			return nil, "", err
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil
	}
}

// AnswerCallbackQueryRequest is the request body for answerCallbackQuery.
type AnswerCallbackQueryRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

type getFileRequest struct {
	FileID string `json:"file_id"`
}

// GetMe returns the bot's user information.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	return do[User](ctx, c, "getMe", jsonBody(nil))
}

// GetUpdates fetches incoming updates using long polling.
func (c *Client) GetUpdates(ctx context.Context, req GetUpdatesRequest) ([]Update, error) {
	result, err := do[[]Update](ctx, c, "getUpdates", jsonBody(req))
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// SetWebhook configures the webhook URL for receiving updates.
func (c *Client) SetWebhook(ctx context.Context, req SetWebhookRequest) error {
	_, err := do[bool](ctx, c, "setWebhook", jsonBody(req))
	return err
}

// DeleteWebhook removes the current webhook integration.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := do[bool](ctx, c, "deleteWebhook", jsonBody(nil))
	return err
}

// SendMessage sends a text message to the specified chat.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	return do[Message](ctx, c, "sendMessage", jsonBody(req))
}

// SendMedia sends a photo, audio, voice, video or document.
func (c *Client) SendMedia(ctx context.Context, method MediaMethod, req SendMediaRequest) (*Message, error) {
	if req.Ref == "" && len(req.Data) == 0 {
		return nil, fmt.Errorf("telegram: %s needs a reference or data", method)
	}
	return do[Message](ctx, c, string(method), req.body(method.Field()))
}

// AnswerCallbackQuery acknowledges a button press so the client stops its
// loading indicator.
func (c *Client) AnswerCallbackQuery(ctx context.Context, req AnswerCallbackQueryRequest) error {
	_, err := do[bool](ctx, c, "answerCallbackQuery", jsonBody(req))
	return err
}

// GetFile retrieves basic info about a file and prepares it for downloading.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	return do[File](ctx, c, "getFile", jsonBody(getFileRequest{FileID: fileID}))
}

// FileURL returns the download URL for a file path returned by GetFile.
func (c *Client) FileURL(filePath string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, filePath)
}

// DownloadFile fetches a file path returned by GetFile.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(filePath), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download failed: %w", errors.Unwrap(err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Code: resp.StatusCode, Description: "file download failed"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: read file: %w", err)
	}
	if len(data) > MaxDownloadBytes {
		return nil, ErrFileTooLarge
	}
	return data, nil
}
