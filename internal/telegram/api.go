package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAPIURL = "https://api.telegram.org"

var ErrAPI = errors.New("telegram api error")

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// DisplayName - имя оператора для журнала решений
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return fmt.Sprintf("tg:%d", u.ID)
}

type Chat struct {
	ID int64 `json:"id"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// emptyKeyboard убирает кнопки при редактировании сообщения
var emptyKeyboard = &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}}

type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// API - методы Bot API, которые использует сервис
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int64, text string, markup *InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID string, text string) error
	SetMyCommands(ctx context.Context, commands []BotCommand) error
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type botAPI struct {
	client *resty.Client
}

func NewAPI(baseURL string, token string) API {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/") + "/bot" + token).
		SetHeader("Content-Type", "application/json")
	return &botAPI{client: client}
}

func (api *botAPI) call(ctx context.Context, method string, body any, result any) error {
	var resp apiResponse
	setresp, err := api.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		SetError(&resp).
		Post("/" + method)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s: %d %s", ErrAPI, method, setresp.StatusCode(), resp.Description)
	}
	if result != nil {
		return json.Unmarshal(resp.Result, result)
	}
	return nil
}

func (api *botAPI) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := api.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id,omitempty"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

func (api *botAPI) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (Message, error) {
	var msg Message
	err := api.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "Markdown",
		ReplyMarkup: markup,
	}, &msg)
	return msg, err
}

func (api *botAPI) EditMessageText(ctx context.Context, chatID int64, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	return api.call(ctx, "editMessageText", sendMessageRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   "Markdown",
		ReplyMarkup: markup,
	}, nil)
}

func (api *botAPI) AnswerCallbackQuery(ctx context.Context, callbackID string, text string) error {
	body := map[string]string{"callback_query_id": callbackID}
	if text != "" {
		body["text"] = text
	}
	return api.call(ctx, "answerCallbackQuery", body, nil)
}

func (api *botAPI) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return api.call(ctx, "setMyCommands", map[string]any{"commands": commands}, nil)
}
