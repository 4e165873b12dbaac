package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/levabala/llm-social-filter/store"
	"github.com/levabala/llm-social-filter/stream"
	"github.com/levabala/llm-social-filter/twitter"
)

// statusSeparator divides a message body from its healthcheck status line.
const statusSeparator = "\n---\n"

// Store persists recipient bindings and intents.
type Store interface {
	BindRecipient(ctx context.Context, username string, chatID int64) error
	AddIntent(ctx context.Context, intent *store.Intent) error
	GetIntents(ctx context.Context, username string) ([]store.Intent, error)
	DeleteIntent(ctx context.Context, id string) error
}

// Gateway serves the manual tweet lookup path.
type Gateway interface {
	GetTweetsByIDs(ctx context.Context, ids []string) (*twitter.TweetsResponse, error)
}

// FrameSink receives synthesized stream frames.
type FrameSink interface {
	HandleFrame(payload []byte)
}

type lastMessage struct {
	id   int
	text string
}

// Bot is the admin-only Telegram command surface and the downstream
// delivery channel.
type Bot struct {
	api           *tgbotapi.BotAPI
	store         Store
	gateway       Gateway
	frames        FrameSink
	adminUsername string
	cron          *cron.Cron

	mu           sync.Mutex
	lastMessages map[int64]lastMessage
}

// NewBot creates the bot. Only adminUsername is authorized to interact.
func NewBot(api *tgbotapi.BotAPI, st Store, gateway Gateway, frames FrameSink, adminUsername string) *Bot {
	return &Bot{
		api:           api,
		store:         st,
		gateway:       gateway,
		frames:        frames,
		adminUsername: adminUsername,
		cron:          cron.New(),
		lastMessages:  make(map[int64]lastMessage),
	}
}

// Run polls for updates until the context is canceled. It also starts the
// periodic healthcheck refresher.
func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.cron.AddFunc("@every 10s", b.refreshStatus); err != nil {
		return fmt.Errorf("schedule status refresher: %w", err)
	}
	b.cron.Start()
	defer b.cron.Stop()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	slog.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		slog.Warn("message without sender, rejecting")
		return
	}
	if msg.From.UserName != b.adminUsername {
		slog.Warn("unauthorized sender", "username", msg.From.UserName)
		b.reply(msg.Chat.ID, "not authorized")
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		b.reply(msg.Chat.ID, "received, ignored as a non-text")
		return
	}

	slog.Info("incoming message", "username", msg.From.UserName, "text", text)

	switch {
	case text == "/start":
		b.handleStart(ctx, msg)
	case strings.HasPrefix(text, "/check"):
		b.handleCheck(ctx, msg.Chat.ID, strings.TrimSpace(strings.TrimPrefix(text, "/check")))
	case strings.HasPrefix(text, "/intent"):
		b.handleIntent(ctx, msg.Chat.ID, strings.TrimSpace(strings.TrimPrefix(text, "/intent")))
	default:
		b.reply(msg.Chat.ID, "received as a text")
	}
}

// handleStart binds the authenticated sender to this chat as their delivery
// address.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.store.BindRecipient(ctx, msg.From.UserName, msg.Chat.ID); err != nil {
		slog.Error("failed to bind recipient", "username", msg.From.UserName, "error", err)
		b.reply(msg.Chat.ID, "failed to register this chat")
		return
	}
	b.reply(msg.Chat.ID, "Welcome!")
}

// handleCheck looks a tweet up through the cache-aside gateway and replays
// it through the stream router as if it had just arrived.
func (b *Bot) handleCheck(ctx context.Context, chatID int64, id string) {
	if id == "" {
		b.reply(chatID, "usage: /check <tweet id>")
		return
	}

	resp, err := b.gateway.GetTweetsByIDs(ctx, []string{id})
	if err != nil {
		var apiErr *twitter.APIError
		if errors.As(err, &apiErr) {
			slog.Error("upstream rejected tweet lookup", "tweet_id", id, "message", apiErr.Message)
		} else {
			slog.Error("tweet lookup failed", "tweet_id", id, "error", err)
		}
		b.reply(chatID, "failed to get the tweet")
		return
	}
	if len(resp.Tweets) == 0 {
		slog.Error("no such tweet", "tweet_id", id)
		b.reply(chatID, "no such tweet")
		return
	}

	frame, err := json.Marshal(stream.TweetMessage{
		EventType: stream.EventTweet,
		Tweets:    resp.Tweets,
	})
	if err != nil {
		slog.Error("failed to encode synthesized frame", "error", err)
		return
	}
	b.frames.HandleFrame(frame)
}

func (b *Bot) handleIntent(ctx context.Context, chatID int64, args string) {
	cmd, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "add":
		if rest == "" {
			b.reply(chatID, "usage: /intent add <description>")
			return
		}
		intent := &store.Intent{
			ID:          uuid.NewString(),
			Username:    b.adminUsername,
			Description: rest,
		}
		if err := b.store.AddIntent(ctx, intent); err != nil {
			slog.Error("failed to add intent", "error", err)
			b.reply(chatID, "failed to add the intent")
			return
		}
		b.reply(chatID, fmt.Sprintf("intent added: %s", intent.ID))

	case "list":
		intents, err := b.store.GetIntents(ctx, b.adminUsername)
		if err != nil {
			slog.Error("failed to list intents", "error", err)
			b.reply(chatID, "failed to list intents")
			return
		}
		if len(intents) == 0 {
			b.reply(chatID, "no intents yet, add one with /intent add <description>")
			return
		}
		var sb strings.Builder
		for _, intent := range intents {
			fmt.Fprintf(&sb, "%s: %s\n", intent.ID, intent.Description)
		}
		b.reply(chatID, strings.TrimRight(sb.String(), "\n"))

	case "del":
		if rest == "" {
			b.reply(chatID, "usage: /intent del <id>")
			return
		}
		if err := b.store.DeleteIntent(ctx, rest); err != nil {
			slog.Error("failed to delete intent", "intent_id", rest, "error", err)
			b.reply(chatID, "failed to delete the intent")
			return
		}
		b.reply(chatID, "intent deleted")

	default:
		b.reply(chatID, "usage: /intent add <description> | /intent list | /intent del <id>")
	}
}

// SendMessage delivers a notification with a healthcheck status line
// appended, stripping the status line from the previous bot message in the
// same chat.
func (b *Bot) SendMessage(_ context.Context, chatID int64, text string) (int64, error) {
	patched := PatchStatusText(text)

	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, patched))
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}

	b.mu.Lock()
	previous, hasPrevious := b.lastMessages[chatID]
	b.lastMessages[chatID] = lastMessage{id: sent.MessageID, text: patched}
	b.mu.Unlock()

	if hasPrevious {
		stripped := StripStatusText(previous.text)
		if stripped != previous.text {
			if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, previous.id, stripped)); err != nil {
				slog.Warn("failed to strip status from previous message", "chat_id", chatID, "error", err)
			}
		}
	}

	return int64(sent.MessageID), nil
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.SendMessage(context.Background(), chatID, text); err != nil {
		slog.Warn("failed to reply", "chat_id", chatID, "error", err)
	}
}

// refreshStatus re-patches the status line on the latest bot message of
// every chat, keeping its healthcheck timestamp current.
func (b *Bot) refreshStatus() {
	b.mu.Lock()
	chats := make(map[int64]lastMessage, len(b.lastMessages))
	for chatID, msg := range b.lastMessages {
		chats[chatID] = msg
	}
	b.mu.Unlock()

	for chatID, msg := range chats {
		patched := PatchStatusText(msg.text)
		if patched == msg.text {
			continue
		}
		if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, msg.id, patched)); err != nil {
			slog.Warn("failed to refresh status line", "chat_id", chatID, "error", err)
			continue
		}
		b.mu.Lock()
		if current, ok := b.lastMessages[chatID]; ok && current.id == msg.id {
			b.lastMessages[chatID] = lastMessage{id: msg.id, text: patched}
		}
		b.mu.Unlock()
	}
}

// PatchStatusText replaces the message's status line with a fresh
// healthcheck timestamp.
func PatchStatusText(msg string) string {
	before, _, _ := strings.Cut(msg, statusSeparator)
	return before + statusSeparator + "last healthcheck: " + time.Now().Format("1/2/06, 3:04:05 PM")
}

// StripStatusText removes the status line from a message.
func StripStatusText(msg string) string {
	before, _, _ := strings.Cut(msg, statusSeparator)
	return before
}
