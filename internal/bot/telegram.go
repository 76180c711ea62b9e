package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"market-signal-bot/internal/domain"

	"github.com/samber/lo"
	tele "gopkg.in/telebot.v3"
)

const (
	menuPrompt     = "لطفاً یکی از ارزها را انتخاب کنید:"
	invalidCommand = "دستور نامعتبر است."
)

// menuOrder fixes the inline menu layout by command. Assets it does not name
// follow in configured order.
var menuOrder = []string{"ada", "btc", "eth", "xrp"}

// SignalQuerier is the part of the signal service the bot uses.
type SignalQuerier interface {
	Assets() []domain.AssetConfig
	Evaluate(ctx context.Context, asset domain.AssetConfig) domain.SignalResult
	Summarize(ctx context.Context, assets []domain.AssetConfig) string
	WeeklyDigest(ctx context.Context) string
}

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramBot serves asset commands and the inline menu, and delivers the
// weekly digest to the chat that last ran /start.
type TelegramBot struct {
	service SignalQuerier
	assets  []domain.AssetConfig
	timeout time.Duration
	menu    *tele.ReplyMarkup
	// buttons[i] selects menuAssets[i].
	buttons    []tele.Btn
	menuAssets []domain.AssetConfig
	sender  sender

	mu     sync.RWMutex
	chatID int64
}

func New(service SignalQuerier, timeout time.Duration) *TelegramBot {
	if timeout <= 0 {
		timeout = time.Minute
	}
	t := &TelegramBot{
		service: service,
		assets:  service.Assets(),
		timeout: timeout,
		menu:    &tele.ReplyMarkup{},
	}

	t.menuAssets = orderMenu(t.assets)
	rows := make([]tele.Row, 0, len(t.menuAssets))
	for _, asset := range t.menuAssets {
		btn := t.menu.Data(asset.Label, asset.Command)
		t.buttons = append(t.buttons, btn)
		rows = append(rows, t.menu.Row(btn))
	}
	t.menu.Inline(rows...)
	return t
}

func orderMenu(assets []domain.AssetConfig) []domain.AssetConfig {
	ordered := make([]domain.AssetConfig, 0, len(assets))
	for _, cmd := range menuOrder {
		if asset, ok := lo.Find(assets, func(a domain.AssetConfig) bool { return a.Command == cmd }); ok {
			ordered = append(ordered, asset)
		}
	}
	rest := lo.Reject(assets, func(a domain.AssetConfig, _ int) bool {
		return lo.Contains(menuOrder, a.Command)
	})
	return append(ordered, rest...)
}

// StartTelegramBot connects to Telegram and starts long polling. It returns
// nil when token is empty.
func StartTelegramBot(token string, service SignalQuerier) *TelegramBot {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	t := New(service, 0)
	t.Register(b)
	t.sender = b

	log.Println("Telegram bot started")
	go b.Start()
	return t
}

// Register wires every command and button handler onto b.
func (t *TelegramBot) Register(b *tele.Bot) {
	b.Handle("/start", t.onStart)
	b.Handle("/signal", t.onSignal)
	b.Handle("/menu", t.onMenu)
	for _, asset := range t.assets {
		b.Handle("/"+asset.Command, t.onAsset(asset))
	}
	for i, asset := range t.menuAssets {
		b.Handle(&t.buttons[i], t.onButton(asset))
	}
	b.Handle(tele.OnCallback, t.onUnknownCallback)
}

// ChatID returns the subscribed chat, or 0.
func (t *TelegramBot) ChatID() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chatID
}

// SendDigest sends the weekly digest to the subscribed chat.
func (t *TelegramBot) SendDigest(ctx context.Context) error {
	chatID := t.ChatID()
	if chatID == 0 {
		return domain.ErrNoSubscriber
	}
	if t.sender == nil {
		return errors.New("telegram bot not started")
	}
	msg := t.service.WeeklyDigest(ctx)
	_, err := t.sender.Send(&tele.Chat{ID: chatID}, msg, tele.ModeMarkdown)
	return err
}

func (t *TelegramBot) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), t.timeout)
}

func (t *TelegramBot) onStart(c tele.Context) error {
	if chat := c.Chat(); chat != nil {
		t.mu.Lock()
		t.chatID = chat.ID
		t.mu.Unlock()
	}

	ctx, cancel := t.requestContext()
	defer cancel()

	if err := c.Send(t.service.WeeklyDigest(ctx), tele.ModeMarkdown); err != nil {
		return err
	}
	return t.onMenu(c)
}

func (t *TelegramBot) onSignal(c tele.Context) error {
	ctx, cancel := t.requestContext()
	defer cancel()
	return c.Send(t.service.Summarize(ctx, t.assets), tele.ModeMarkdown)
}

func (t *TelegramBot) onMenu(c tele.Context) error {
	return c.Send(menuPrompt, t.menu)
}

func (t *TelegramBot) onAsset(asset domain.AssetConfig) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := t.requestContext()
		defer cancel()
		return c.Send(t.service.Evaluate(ctx, asset).Report, tele.ModeMarkdown)
	}
}

func (t *TelegramBot) onButton(asset domain.AssetConfig) tele.HandlerFunc {
	return func(c tele.Context) error {
		if err := c.Respond(); err != nil {
			log.Printf("callback answer error: %v", err)
		}
		ctx, cancel := t.requestContext()
		defer cancel()
		return c.Edit(t.service.Evaluate(ctx, asset).Report, tele.ModeMarkdown)
	}
}

func (t *TelegramBot) onUnknownCallback(c tele.Context) error {
	if err := c.Respond(); err != nil {
		log.Printf("callback answer error: %v", err)
	}
	return c.Edit(invalidCommand)
}
