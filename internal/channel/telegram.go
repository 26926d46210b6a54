package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"lumos/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

const telegramBusy = "The assistant is busy right now. Please try again in a moment."

const telegramHelp = "I'm the CLUMOSS assistant. Ask me about our company, subsidiaries, the domains we serve, how to contact us or how to schedule a demo.\n\nCommands:\n/clear - Start a new conversation\n/help - Show this message"

var sectionTitles = map[string]string{
	domain.SectionAbout:        "About",
	domain.SectionSubsidiaries: "Subsidiaries",
	domain.SectionContact:      "Contact",
	domain.SectionSchedule:     "Schedule a demo",
	domain.SectionDomains:      "Domains",
}

// telegramSender is the part of *tgbotapi.BotAPI the channel sends through.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Channel for a Telegram bot. Conversations run
// in the session hub; this channel only translates messages.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	siteURL   string

	bot    telegramSender
	bus    domain.MessageBus
	logger *slog.Logger
	sleep  func(time.Duration)
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	SiteURL   string   // base URL navigation buttons point at
	Bus       domain.MessageBus
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		siteURL:   strings.TrimRight(cfg.SiteURL, "/"),
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		sleep:     time.Sleep,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	t.bus.OnOutbound(t.Name(), t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

// deliver renders one outbound message from the hub.
func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
		return
	}
	if msg.Content != "" {
		t.sendMessage(chatID, msg.Content)
	}
	if msg.Target != "" {
		t.sendNavigation(chatID, msg.Target)
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.publish(update.Message, text)
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.publish(msg, "/start")
	case "clear":
		t.publish(msg, "/clear")
	case "help":
		t.sendMessage(chatID, telegramHelp)
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) publish(msg *tgbotapi.Message, content string) {
	err := t.bus.Publish(domain.InboundMessage{
		Channel:   t.Name(),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:  strconv.FormatInt(msg.From.ID, 10),
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
	})
	if err != nil {
		t.logger.Warn("telegram message not queued", "chat_id", msg.Chat.ID, "err", err)
		t.sendMessage(msg.Chat.ID, telegramBusy)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendNavigation points the user at a page section: a link button when the
// site URL is known, plain text otherwise.
func (t *Telegram) sendNavigation(chatID int64, section string) {
	title, ok := sectionTitles[section]
	if !ok {
		title = section
	}
	if t.siteURL == "" {
		t.sendChunk(tgbotapi.NewMessage(chatID, "-> #"+section))
		return
	}
	msg := tgbotapi.NewMessage(chatID, "Open the "+title+" section:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(title, t.siteURL+"/#"+section),
		),
	)
	t.sendChunk(msg)
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(tgbotapi.NewMessage(chatID, chunk))
	}
}

// splitMessage cuts text into pieces of at most maxLen bytes, preferring
// line breaks in the second half of each piece.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// sendChunk sends one message, backing off on rate limits and transient
// errors.
func (t *Telegram) sendChunk(msg tgbotapi.MessageConfig) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		if attempt == maxRetries {
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			t.sleep(retryAfter)
			continue
		}

		backoff := time.Duration(attempt+1) * time.Second
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		t.sleep(backoff)
	}
}
