// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/polytipster/internal/logger"
)

// longPollSeconds is the getUpdates timeout used by the command listener.
const longPollSeconds = 60

// ClientConfig holds transport settings for the Telegram client.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
	// Timeout bounds each Bot API call made while dispatching.
	Timeout time.Duration
	// APIEndpoint defaults to tgbotapi.APIEndpoint.
	APIEndpoint string
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	poller         *tgbotapi.BotAPI
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client. Sends and the command listener use
// separate HTTP clients so the long poll cannot hold up a dispatch.
func NewClient(botToken string, cfg ClientConfig) (*Client, error) {
	if botToken == "" {
		return nil, fmt.Errorf("failed to create Telegram bot: empty token")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, cfg.APIEndpoint, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	poller, err := tgbotapi.NewBotAPIWithClient(botToken, cfg.APIEndpoint, &http.Client{
		Timeout: longPollSeconds*time.Second + cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram update poller: %w", err)
	}

	return &Client{
		bot:            bot,
		poller:         poller,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, status func() string) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = longPollSeconds
	updates := c.poller.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.poller.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status func() string) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		if status == nil {
			return
		}
		text = status()
	default:
		return
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		logger.Warn("Failed to reply to /%s: %v", msg.Command(), err)
	}
}

// Dispatch sends a MarkdownV2 message to the chat identified by destination.
func (c *Client) Dispatch(ctx context.Context, destination, text string) error {
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	return c.sendMarkdownV2(ctx, chatID, text)
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := c.send(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("send cancelled after %d attempts: %w", i+1, ctx.Err())
		}
		lastErr = err
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send cancelled after %d attempts: %w", i+1, ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// send performs one Bot API call. The call itself is bounded by the HTTP
// client timeout; send returns early when ctx ends first.
func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
