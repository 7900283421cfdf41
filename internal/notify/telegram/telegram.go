// Package telegram delivers push-channel alerts as Telegram bot messages. The
// recipient address is the user's chat id.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JakeFAU/realtime-price-tracker/internal/notify"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

const defaultTimeout = 10 * time.Second

// sender sends one message bound to ctx.
type sender interface {
	Send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier implements tracker.Notifier.
type Notifier struct {
	bot sender
}

// New authorises the bot token against the Telegram API. Every request,
// including the authorisation call, is bounded by timeout.
func New(token string, timeout time.Duration) (*Notifier, error) {
	return newWithEndpoint(token, tgbotapi.APIEndpoint, timeout)
}

func newWithEndpoint(token, endpoint string, timeout time.Duration) (*Notifier, error) {
	if token == "" {
		return nil, errors.New("notify.push.telegram_token is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &Notifier{bot: botSender{api: bot}}, nil
}

// SendPriceAlert implements tracker.Notifier.
func (n *Notifier) SendPriceAlert(ctx context.Context, intent tracker.NotificationIntent) error {
	chatID, err := strconv.ParseInt(intent.Recipient.Address, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", intent.Recipient.Address, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, notify.Subject(intent)+"\n\n"+notify.Body(intent))
	if _, err := n.bot.Send(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("telegram send: %w", ctxErr)
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// botSender runs each call on a copy of the bot whose client carries ctx.
type botSender struct {
	api *tgbotapi.BotAPI
}

func (b botSender) Send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	bot := *b.api
	bot.Client = ctxClient{ctx: ctx, base: b.api.Client}
	return bot.Send(c)
}

type ctxClient struct {
	ctx  context.Context
	base tgbotapi.HTTPClient
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.base.Do(req.WithContext(c.ctx))
}
