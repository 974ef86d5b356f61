package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"HotTopics/internal/domain"
	"HotTopics/internal/ports"
)

// maxMessageRunes stays below Telegram's 4096 character limit.
const maxMessageRunes = 3800

// Notifier sends the published hot topics to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier. An empty endpoint uses
// the public Bot API.
func NewNotifier(botToken, chatID, endpoint string) *Notifier {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// PublishHotTopics posts an HTML digest, split into several messages when long.
func (n *Notifier) PublishHotTopics(ctx context.Context, topics []domain.HotTopic) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}
	if len(topics) == 0 {
		return nil
	}

	chatID, err := strconv.ParseInt(n.chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", n.chatID, err)
	}

	bot, err := n.api()
	if err != nil {
		return err
	}

	for _, text := range FormatDigest(topics, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := bot.Send(msg); err != nil {
			return fmt.Errorf("send digest: %w", err)
		}
	}
	return nil
}

func (n *Notifier) api() (*tgbotapi.BotAPI, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.bot != nil {
		return n.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(n.botToken, n.endpoint, n.client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	n.bot = bot
	return bot, nil
}

// FormatDigest renders topics as numbered HTML lines packed into messages of
// at most maxRunes runes each.
func FormatDigest(topics []domain.HotTopic, maxRunes int) []string {
	var (
		messages []string
		current  strings.Builder
		size     int
	)
	header := "<b>🔥 今日热点</b>\n\n"
	current.WriteString(header)
	size = len([]rune(header))

	for i, topic := range topics {
		line := fmt.Sprintf("%d. <a href=\"%s\">%s</a> [%s] %.1f",
			i+1,
			tgbotapi.EscapeText(tgbotapi.ModeHTML, topic.Link),
			tgbotapi.EscapeText(tgbotapi.ModeHTML, topic.Title),
			tgbotapi.EscapeText(tgbotapi.ModeHTML, topic.Source),
			topic.Score,
		)
		if topic.Comment != "" {
			line += "\n   " + tgbotapi.EscapeText(tgbotapi.ModeHTML, topic.Comment)
		}
		line += "\n"

		runes := len([]rune(line))
		if size+runes > maxRunes && current.Len() > 0 {
			messages = append(messages, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			size = 0
		}
		current.WriteString(line)
		size += runes
	}

	if current.Len() > 0 {
		messages = append(messages, strings.TrimRight(current.String(), "\n"))
	}
	return messages
}
