package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/rps/pkg/rps"
)

const (
	defaultTelegramAPIBase = "https://api.telegram.org"
	defaultRequestTimeout  = 5 * time.Second
)

// PlayerDirectory resolves a recipient's delivery preferences.
type PlayerDirectory interface {
	GetPlayer(ctx context.Context, userID string) (rps.Player, error)
}

// TelegramConfig configures the outbound Telegram sender.
type TelegramConfig struct {
	BotToken   string
	APIBaseURL string
	HTTPClient *http.Client
}

// Telegram delivers result notices through the Telegram bot API. Players
// without the notification opt-in or a chat id are skipped silently.
type Telegram struct {
	directory  PlayerDirectory
	botToken   string
	apiBaseURL string
	httpClient *http.Client
}

// NewTelegram validates the config and returns a Telegram notifier.
func NewTelegram(directory PlayerDirectory, config TelegramConfig) (*Telegram, error) {
	if directory == nil {
		return nil, fmt.Errorf("telegram notifier: player directory is required")
	}
	if config.BotToken == "" {
		return nil, fmt.Errorf("telegram notifier: bot token is required")
	}
	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultTelegramAPIBase
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Telegram{
		directory:  directory,
		botToken:   config.BotToken,
		apiBaseURL: apiBaseURL,
		httpClient: httpClient,
	}, nil
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NotifyResult sends the rendered outcome message to the recipient's chat.
func (telegram *Telegram) NotifyResult(ctx context.Context, notice rps.ResultNotice) error {
	player, err := telegram.directory.GetPlayer(ctx, notice.UserID)
	if err != nil {
		return fmt.Errorf("telegram notifier: resolve recipient %s: %w", notice.UserID, err)
	}
	if !player.NotifyGames || player.TelegramChatID == "" {
		return nil
	}
	payload, err := json.Marshal(sendMessageRequest{
		ChatID: player.TelegramChatID,
		Text:   FormatResult(notice),
	})
	if err != nil {
		return fmt.Errorf("telegram notifier: encode message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", telegram.apiBaseURL, telegram.botToken)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram notifier: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := telegram.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("telegram notifier: send message: %w", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram notifier: unexpected status %d: %s", response.StatusCode, string(body))
	}
	var decoded sendMessageResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("telegram notifier: decode response: %w", err)
	}
	if !decoded.OK {
		return fmt.Errorf("telegram notifier: api rejected message: %s", decoded.Description)
	}
	return nil
}
