package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/levabala/llm-social-filter/classifier"
	"github.com/levabala/llm-social-filter/twitter"
)

type fakeStore struct {
	mu       sync.Mutex
	upserted []twitter.Tweet
}

func (s *fakeStore) UpsertTweets(_ context.Context, tweets []twitter.Tweet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, tweets...)
	return nil
}

type fakeBindings struct {
	intents []classifier.Intent
	chatID  int64
}

func (b *fakeBindings) GetIntents(context.Context, string) ([]classifier.Intent, error) {
	return b.intents, nil
}

func (b *fakeBindings) GetChatID(context.Context, string) (int64, error) {
	return b.chatID, nil
}

type fakeClassifier struct {
	mu         sync.Mutex
	classified []string
	matchAll   bool
	err        error
}

func (c *fakeClassifier) Classify(_ context.Context, post string, _ []classifier.Intent) (*classifier.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.classified = append(c.classified, post)
	return &classifier.Result{
		Matches: []classifier.Match{
			{IntentID: "i1", Match: c.matchAll, Confidence: 0.9, Rationale: "because " + post},
		},
		OverallMatch: c.matchAll,
	}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *fakeSender) SendMessage(_ context.Context, _ int64, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return int64(len(s.sent)), nil
}

func defaultBindings() *fakeBindings {
	return &fakeBindings{
		intents: []classifier.Intent{{ID: "i1", Description: "anything"}},
		chatID:  42,
	}
}

func makeBatch(n int) []twitter.Tweet {
	tweets := make([]twitter.Tweet, n)
	for i := range tweets {
		tweets[i] = twitter.Tweet{
			ID:         fmt.Sprintf("%d", i),
			Text:       fmt.Sprintf("tweet %d", i),
			TwitterURL: fmt.Sprintf("https://twitter.com/x/status/%d", i),
			CreatedAt:  "Thu Aug 14 07:37:46 +0000 2025",
		}
	}
	return tweets
}

func newTestRunner(st *fakeStore, b *fakeBindings, c *fakeClassifier, s *fakeSender, opts ...Option) *Runner {
	base := []Option{WithNotifyDelay(time.Millisecond)}
	return NewRunner(st, b, c, s, "admin", append(base, opts...)...)
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	st := &fakeStore{}
	sender := &fakeSender{}
	runner := newTestRunner(st, defaultBindings(), &fakeClassifier{matchAll: true}, sender)

	if err := runner.ProcessBatch(context.Background(), nil); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(st.upserted) != 0 {
		t.Errorf("upserted %d tweets, want 0", len(st.upserted))
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(sender.sent))
	}
}

func TestBatchCapAndSummary(t *testing.T) {
	st := &fakeStore{}
	cls := &fakeClassifier{matchAll: true}
	sender := &fakeSender{}
	runner := newTestRunner(st, defaultBindings(), cls, sender, WithBatchCap(30))

	if err := runner.ProcessBatch(context.Background(), makeBatch(45)); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	if len(st.upserted) != 45 {
		t.Errorf("upserted %d tweets, want all 45", len(st.upserted))
	}
	if len(cls.classified) != 30 {
		t.Fatalf("classified %d tweets, want 30", len(cls.classified))
	}
	for i, post := range cls.classified {
		if want := fmt.Sprintf("tweet %d", i); post != want {
			t.Errorf("classified[%d] = %q, want %q (order must be preserved)", i, post, want)
		}
	}

	// 30 notifications plus one overflow summary.
	if len(sender.sent) != 31 {
		t.Fatalf("sent %d messages, want 31", len(sender.sent))
	}
	summary := sender.sent[30]
	if !strings.Contains(summary, "30/45") {
		t.Errorf("summary = %q, want it to report 30/45", summary)
	}
}

func TestNoSummaryUnderCap(t *testing.T) {
	sender := &fakeSender{}
	runner := newTestRunner(&fakeStore{}, defaultBindings(), &fakeClassifier{matchAll: true}, sender, WithBatchCap(30))

	if err := runner.ProcessBatch(context.Background(), makeBatch(3)); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(sender.sent) != 3 {
		t.Errorf("sent %d messages, want 3 (no summary)", len(sender.sent))
	}
}

func TestNoMatchSuppressesDelivery(t *testing.T) {
	cls := &fakeClassifier{matchAll: false}
	sender := &fakeSender{}
	runner := newTestRunner(&fakeStore{}, defaultBindings(), cls, sender)

	if err := runner.ProcessBatch(context.Background(), makeBatch(5)); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	if len(cls.classified) != 5 {
		t.Errorf("classified %d tweets, want 5", len(cls.classified))
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(sender.sent))
	}
}

func TestMissingBindingShortCircuits(t *testing.T) {
	st := &fakeStore{}
	cls := &fakeClassifier{matchAll: true}
	sender := &fakeSender{}
	bindings := &fakeBindings{
		intents: []classifier.Intent{{ID: "i1", Description: "anything"}},
		chatID:  0, // no bound delivery address
	}
	runner := newTestRunner(st, bindings, cls, sender)

	if err := runner.ProcessBatch(context.Background(), makeBatch(3)); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	if len(st.upserted) != 3 {
		t.Errorf("upserted %d tweets, want 3 (storage must still happen)", len(st.upserted))
	}
	if len(cls.classified) != 0 {
		t.Errorf("classified %d tweets, want 0", len(cls.classified))
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(sender.sent))
	}
}

func TestMissingIntentsShortCircuits(t *testing.T) {
	st := &fakeStore{}
	sender := &fakeSender{}
	bindings := &fakeBindings{chatID: 42}
	runner := newTestRunner(st, bindings, &fakeClassifier{matchAll: true}, sender)

	if err := runner.ProcessBatch(context.Background(), makeBatch(2)); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	if len(st.upserted) != 2 {
		t.Errorf("upserted %d tweets, want 2", len(st.upserted))
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(sender.sent))
	}
}

func TestClassifierErrorSkipsTweet(t *testing.T) {
	cls := &fakeClassifier{err: fmt.Errorf("backend down")}
	sender := &fakeSender{}
	runner := newTestRunner(&fakeStore{}, defaultBindings(), cls, sender)

	if err := runner.ProcessBatch(context.Background(), makeBatch(3)); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(sender.sent))
	}
}

func TestNotificationFormat(t *testing.T) {
	sender := &fakeSender{}
	runner := newTestRunner(&fakeStore{}, defaultBindings(), &fakeClassifier{matchAll: true}, sender)

	batch := makeBatch(1)
	if err := runner.ProcessBatch(context.Background(), batch); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}

	msg := sender.sent[0]
	if !strings.Contains(msg, batch[0].TwitterURL) {
		t.Errorf("message %q missing canonical link", msg)
	}
	if !strings.Contains(msg, "match rationale:") {
		t.Errorf("message %q missing rationale section", msg)
	}
	if !strings.Contains(msg, "because tweet 0") {
		t.Errorf("message %q missing matched intent rationale", msg)
	}
	if !strings.Contains(msg, "8/14/25") {
		t.Errorf("message %q missing formatted timestamp", msg)
	}
}

func TestFormatCreatedAtFallsBackToRaw(t *testing.T) {
	if got := formatCreatedAt("not a timestamp"); got != "not a timestamp" {
		t.Errorf("formatCreatedAt fallback = %q", got)
	}
}
