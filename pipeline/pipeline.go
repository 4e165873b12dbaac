package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/levabala/llm-social-filter/classifier"
	"github.com/levabala/llm-social-filter/metrics"
	"github.com/levabala/llm-social-filter/twitter"
)

// Store persists observed tweets.
type Store interface {
	UpsertTweets(ctx context.Context, tweets []twitter.Tweet) error
}

// BindingResolver resolves a recipient's intents and delivery address.
type BindingResolver interface {
	GetIntents(ctx context.Context, username string) ([]classifier.Intent, error)
	GetChatID(ctx context.Context, username string) (int64, error)
}

// Classifier checks a post against a recipient's intents.
type Classifier interface {
	Classify(ctx context.Context, post string, intents []classifier.Intent) (*classifier.Result, error)
}

// Sender delivers a notification and returns a message handle.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
}

// Runner turns a batch of newly observed tweets into downstream
// notifications under a strict sequential rate limit.
type Runner struct {
	store       Store
	bindings    BindingResolver
	classifier  Classifier
	sender      Sender
	recipient   string
	batchCap    int
	notifyDelay time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithBatchCap sets the per-batch cap on individually evaluated tweets.
func WithBatchCap(n int) Option {
	return func(r *Runner) {
		r.batchCap = n
	}
}

// WithNotifyDelay sets the fixed delay between items of one batch.
func WithNotifyDelay(d time.Duration) Option {
	return func(r *Runner) {
		r.notifyDelay = d
	}
}

// NewRunner creates a notification pipeline for one recipient.
func NewRunner(store Store, bindings BindingResolver, cls Classifier, sender Sender, recipient string, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		bindings:    bindings,
		classifier:  cls,
		sender:      sender,
		recipient:   recipient,
		batchCap:    30,
		notifyDelay: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessBatch upserts every tweet, classifies the first batchCap of them
// against the recipient's intents in order, and delivers matches. The
// inter-item delay is scoped to this call, so overlapping batches do not
// throttle each other.
func (r *Runner) ProcessBatch(ctx context.Context, tweets []twitter.Tweet) error {
	if len(tweets) == 0 {
		slog.Info("no tweets in the batch")
		return nil
	}

	if err := r.store.UpsertTweets(ctx, tweets); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	slog.Info("upserted tweets", "count", len(tweets))

	intents, err := r.bindings.GetIntents(ctx, r.recipient)
	if err != nil {
		slog.Warn("failed to resolve intents, skipping delivery", "recipient", r.recipient, "error", err)
		return nil
	}
	if len(intents) == 0 {
		slog.Warn("no intents for the recipient, skipping delivery", "recipient", r.recipient)
		return nil
	}

	chatID, err := r.bindings.GetChatID(ctx, r.recipient)
	if err != nil || chatID == 0 {
		slog.Warn("no delivery address for the recipient, skipping delivery", "recipient", r.recipient, "error", err)
		return nil
	}

	limit := len(tweets)
	if limit > r.batchCap {
		limit = r.batchCap
	}

	limiter := rate.NewLimiter(rate.Every(r.notifyDelay), 1)
	for i := range tweets[:limit] {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		tweet := &tweets[i]
		slog.Info("processing tweet", "index", i, "total", len(tweets), "tweet_id", tweet.ID)

		result, err := r.classifier.Classify(ctx, tweet.Text, intents)
		if err != nil {
			slog.Warn("classification failed, skipping tweet", "tweet_id", tweet.ID, "error", err)
			continue
		}

		if !result.OverallMatch {
			slog.Info("no intent matched, skipping", "tweet_id", tweet.ID)
			metrics.NotificationsSkipped.Inc()
			continue
		}

		if _, err := r.sender.SendMessage(ctx, chatID, formatNotification(tweet, result)); err != nil {
			slog.Warn("failed to deliver notification", "tweet_id", tweet.ID, "chat_id", chatID, "error", err)
			continue
		}
		metrics.NotificationsSent.Inc()
	}

	if len(tweets) > limit {
		summary := fmt.Sprintf("too many tweets, sent %d/%d", limit, len(tweets))
		if _, err := r.sender.SendMessage(ctx, chatID, summary); err != nil {
			slog.Warn("failed to deliver batch summary", "chat_id", chatID, "error", err)
		}
	}

	return nil
}

// formatNotification renders the delivery message: timestamp, canonical
// link, then the rationale of every matched intent.
func formatNotification(tweet *twitter.Tweet, result *classifier.Result) string {
	lines := []string{
		formatCreatedAt(tweet.CreatedAt),
		tweet.TwitterURL,
		"match rationale:",
	}
	for _, match := range result.Matches {
		if match.Match {
			lines = append(lines, match.Rationale)
		}
	}
	return strings.Join(lines, "\n")
}

func formatCreatedAt(createdAt string) string {
	// Upstream timestamps look like "Thu Aug 14 07:37:46 +0000 2025".
	t, err := time.Parse(time.RubyDate, createdAt)
	if err != nil {
		return createdAt
	}
	return t.Format("1/2/06, 3:04 PM")
}
