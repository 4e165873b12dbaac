package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/levabala/llm-social-filter/twitter"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testTweet(id, text string) twitter.Tweet {
	return twitter.Tweet{
		Type:       "tweet",
		ID:         id,
		Text:       text,
		TwitterURL: "https://twitter.com/someone/status/" + id,
		CreatedAt:  "Thu Aug 14 07:37:46 +0000 2025",
		Author: twitter.Author{
			Type:     "user",
			ID:       "u1",
			UserName: "someone",
			Name:     "Some One",
		},
	}
}

func TestUpsertTweetIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := testTweet("1", "original text")
	second := testTweet("1", "updated text")
	second.LikeCount = 42

	if err := db.UpsertTweet(ctx, &first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := db.UpsertTweet(ctx, &second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := db.GetTweet(ctx, "1")
	if err != nil {
		t.Fatalf("GetTweet failed: %v", err)
	}
	if got.Text != "updated text" {
		t.Errorf("Text = %q, want %q", got.Text, "updated text")
	}
	if got.LikeCount != 42 {
		t.Errorf("LikeCount = %d, want 42", got.LikeCount)
	}

	tweets, err := db.GetTweetsByIDs(ctx, []string{"1"})
	if err != nil {
		t.Fatalf("GetTweetsByIDs failed: %v", err)
	}
	if len(tweets) != 1 {
		t.Fatalf("got %d tweets, want 1 (re-ingest must overwrite, not duplicate)", len(tweets))
	}
}

func TestGetTweetNotFound(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.GetTweet(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetTweetsByIDsSkipsMissing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	stored := testTweet("1", "hello")
	if err := db.UpsertTweet(ctx, &stored); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	tweets, err := db.GetTweetsByIDs(ctx, []string{"1", "2"})
	if err != nil {
		t.Fatalf("GetTweetsByIDs failed: %v", err)
	}
	if len(tweets) != 1 {
		t.Fatalf("got %d tweets, want 1", len(tweets))
	}
	if tweets[0].ID != "1" {
		t.Errorf("ID = %q, want %q", tweets[0].ID, "1")
	}
}

func TestFollowingsSentinel(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	createdAt, err := db.FollowingsCreatedAt(ctx)
	if err != nil {
		t.Fatalf("FollowingsCreatedAt failed: %v", err)
	}
	if createdAt != NotYetCreated {
		t.Errorf("createdAt = %d, want sentinel %d", createdAt, NotYetCreated)
	}

	followings := []twitter.Following{
		{Type: "user", ID: "u1", UserName: "alpha", Name: "Alpha"},
		{Type: "user", ID: "u2", UserName: "beta", Name: "Beta"},
	}
	now := time.Now()
	if err := db.ReplaceFollowings(ctx, followings, now); err != nil {
		t.Fatalf("ReplaceFollowings failed: %v", err)
	}

	createdAt, err = db.FollowingsCreatedAt(ctx)
	if err != nil {
		t.Fatalf("FollowingsCreatedAt failed: %v", err)
	}
	if createdAt != now.UnixMilli() {
		t.Errorf("createdAt = %d, want %d", createdAt, now.UnixMilli())
	}

	got, err := db.GetFollowings(ctx)
	if err != nil {
		t.Fatalf("GetFollowings failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d followings, want 2", len(got))
	}

	if err := db.InvalidateFollowings(ctx); err != nil {
		t.Fatalf("InvalidateFollowings failed: %v", err)
	}
	createdAt, err = db.FollowingsCreatedAt(ctx)
	if err != nil {
		t.Fatalf("FollowingsCreatedAt failed: %v", err)
	}
	if createdAt != NotYetCreated {
		t.Errorf("createdAt after invalidation = %d, want sentinel", createdAt)
	}
}

func TestBindRecipient(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.GetChatID(ctx, "admin"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := db.BindRecipient(ctx, "admin", 12345); err != nil {
		t.Fatalf("BindRecipient failed: %v", err)
	}
	chatID, err := db.GetChatID(ctx, "admin")
	if err != nil {
		t.Fatalf("GetChatID failed: %v", err)
	}
	if chatID != 12345 {
		t.Errorf("chatID = %d, want 12345", chatID)
	}

	// Rebinding overwrites.
	if err := db.BindRecipient(ctx, "admin", 67890); err != nil {
		t.Fatalf("rebind failed: %v", err)
	}
	chatID, err = db.GetChatID(ctx, "admin")
	if err != nil {
		t.Fatalf("GetChatID failed: %v", err)
	}
	if chatID != 67890 {
		t.Errorf("chatID = %d, want 67890", chatID)
	}
}

func TestIntentsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	intent := &Intent{
		ID:               "intent-1",
		Username:         "admin",
		Description:      "mentions of distributed systems",
		ExamplesPositive: []string{"raft consensus deep dive"},
		ExamplesNegative: []string{"my breakfast today"},
	}
	if err := db.AddIntent(ctx, intent); err != nil {
		t.Fatalf("AddIntent failed: %v", err)
	}

	intents, err := db.GetIntents(ctx, "admin")
	if err != nil {
		t.Fatalf("GetIntents failed: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1", len(intents))
	}
	got := intents[0]
	if got.Description != intent.Description {
		t.Errorf("Description = %q, want %q", got.Description, intent.Description)
	}
	if len(got.ExamplesPositive) != 1 || got.ExamplesPositive[0] != intent.ExamplesPositive[0] {
		t.Errorf("ExamplesPositive = %v, want %v", got.ExamplesPositive, intent.ExamplesPositive)
	}

	other, err := db.GetIntents(ctx, "stranger")
	if err != nil {
		t.Fatalf("GetIntents failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("got %d intents for another user, want 0", len(other))
	}

	if err := db.DeleteIntent(ctx, "intent-1"); err != nil {
		t.Fatalf("DeleteIntent failed: %v", err)
	}
	intents, err = db.GetIntents(ctx, "admin")
	if err != nil {
		t.Fatalf("GetIntents failed: %v", err)
	}
	if len(intents) != 0 {
		t.Errorf("got %d intents after delete, want 0", len(intents))
	}
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.GetSetting(ctx, "key"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := db.SetSetting(ctx, "key", "value"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	value, err := db.GetSetting(ctx, "key")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if value != "value" {
		t.Errorf("value = %q, want %q", value, "value")
	}
}
