package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levabala/llm-social-filter/metrics"
	"github.com/levabala/llm-social-filter/twitter"
)

// Event types carried by the stream's discriminator field.
const (
	EventConnected = "connected"
	EventPing      = "ping"
	EventTweet     = "tweet"
)

// TweetMessage is a batch of newly observed tweets plus the subscription
// rule that matched them.
type TweetMessage struct {
	EventType string          `json:"event_type"`
	RuleID    string          `json:"rule_id,omitempty"`
	RuleTag   string          `json:"rule_tag,omitempty"`
	Tweets    []twitter.Tweet `json:"tweets,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type baseMessage struct {
	EventType string `json:"event_type"`
	Timestamp int64  `json:"timestamp"`
}

// BatchHandler receives decoded tweet batches.
type BatchHandler func(msg *TweetMessage)

// Router decodes inbound frames by their event_type and dispatches tweet
// batches to the registered handler.
type Router struct {
	mu      sync.RWMutex
	handler BatchHandler
}

// NewRouter creates a router with no handler registered. Dispatching without
// a handler is a no-op.
func NewRouter() *Router {
	return &Router{}
}

// SetBatchHandler swaps the current batch handler.
func (r *Router) SetBatchHandler(h BatchHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// HandleFrame decodes one inbound frame and dispatches it. Malformed frames
// are logged and dropped. Batch handlers run on their own goroutine so a
// slow batch never blocks the connection's read loop.
func (r *Router) HandleFrame(payload []byte) {
	var base baseMessage
	if err := json.Unmarshal(payload, &base); err != nil {
		slog.Error("failed to decode stream frame", "error", err)
		return
	}

	metrics.FramesReceived.WithLabelValues(base.EventType).Inc()

	switch base.EventType {
	case EventConnected:
		slog.Info("stream connection acknowledged")

	case EventPing:
		logLatency(base.Timestamp)

	case EventTweet:
		var msg TweetMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			slog.Error("failed to decode tweet batch", "error", err)
			return
		}

		slog.Info("tweet batch received",
			"rule_id", msg.RuleID,
			"rule_tag", msg.RuleTag,
			"count", len(msg.Tweets))
		if msg.Timestamp > 0 {
			logLatency(msg.Timestamp)
		}

		r.mu.RLock()
		handler := r.handler
		r.mu.RUnlock()
		if handler == nil {
			return
		}

		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("batch handler panicked", "panic", rec)
				}
			}()
			handler(&msg)
		}()

	default:
		slog.Warn("unrecognized stream event", "event_type", base.EventType)
	}
}

// logLatency reports how far behind the frame's embedded timestamp we are.
func logLatency(timestampMs int64) {
	now := time.Now()
	diff := now.UnixMilli() - timestampMs

	slog.Info("stream latency",
		"current_time", now.Format("2006-01-02 15:04:05"),
		"message_time", time.UnixMilli(timestampMs).Format("2006-01-02 15:04:05"),
		"delta", formatMsDiff(diff),
		"delta_ms", diff)
}

func formatMsDiff(ms int64) string {
	seconds := ms / 1000
	return fmt.Sprintf("%dmin%dsec", seconds/60, seconds%60)
}
