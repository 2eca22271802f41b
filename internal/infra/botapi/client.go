package botapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"gatebot/internal/app"
)

const defaultBaseURL = "https://api.telegram.org"

// Client implements app.ChatClient against the Telegram Bot HTTP API.
type Client struct {
	http *resty.Client
}

func NewClient(token string) *Client {
	return NewClientWithBaseURL(token, defaultBaseURL)
}

// NewClientWithBaseURL points the client at an alternate API host (tests).
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		http: resty.New().SetBaseURL(baseURL + "/bot" + token),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(params).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s: %s", method, envelope.Description)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// BotID resolves the bot's own identity at startup.
func (c *Client) BotID(ctx context.Context) (int64, error) {
	var me struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return 0, err
	}
	return me.ID, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]app.Button) (int, error) {
	params := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if markup := inlineKeyboard(keyboard); markup != nil {
		params["reply_markup"] = markup
	}
	var msg struct {
		MessageID int `json:"message_id"`
	}
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard [][]app.Button) error {
	params := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if markup := inlineKeyboard(keyboard); markup != nil {
		params["reply_markup"] = markup
	}
	return c.call(ctx, "editMessageText", params, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

func (c *Client) RestrictSending(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "restrictChatMember", map[string]any{
		"chat_id":     chatID,
		"user_id":     userID,
		"permissions": permissions(false),
	}, nil)
}

func (c *Client) AllowSending(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "restrictChatMember", map[string]any{
		"chat_id":     chatID,
		"user_id":     userID,
		"permissions": permissions(true),
	}, nil)
}

func (c *Client) BanMember(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "banChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}, nil)
}

func (c *Client) UnbanMember(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "unbanChatMember", map[string]any{
		"chat_id":        chatID,
		"user_id":        userID,
		"only_if_banned": true,
	}, nil)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	params := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		params["text"] = text
		params["show_alert"] = alert
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

func (c *Client) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	var admins []struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := c.call(ctx, "getChatAdministrators", map[string]any{"chat_id": chatID}, &admins); err != nil {
		return false, err
	}
	for _, admin := range admins {
		if admin.User.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

func inlineKeyboard(keyboard [][]app.Button) map[string]any {
	if len(keyboard) == 0 {
		return nil
	}
	rows := make([][]map[string]string, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]map[string]string, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, map[string]string{
				"text":          b.Label,
				"callback_data": b.Data,
			})
		}
		rows = append(rows, buttons)
	}
	return map[string]any{"inline_keyboard": rows}
}

func permissions(allowed bool) map[string]bool {
	return map[string]bool{
		"can_send_messages":         allowed,
		"can_send_media_messages":   allowed,
		"can_send_other_messages":   allowed,
		"can_add_web_page_previews": allowed,
	}
}
