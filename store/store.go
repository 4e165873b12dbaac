package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/levabala/llm-social-filter/twitter"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// NotYetCreated is the followings snapshot sentinel meaning the snapshot has
// never been fetched.
const NotYetCreated int64 = -1

const followingsCreatedAtKey = "followings_created_at"

// Intent is a persisted matching criterion bound to a recipient username.
type Intent struct {
	ID               string
	Username         string
	Description      string
	ExamplesPositive []string
	ExamplesNegative []string
}

// DB wraps the SQLite database connection and provides storage operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tweets (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		author_handle TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at TEXT,
		payload TEXT NOT NULL,
		fetched_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tweets_author_handle ON tweets(author_handle);

	CREATE TABLE IF NOT EXISTS followings (
		id TEXT PRIMARY KEY,
		handle TEXT NOT NULL,
		name TEXT,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recipients (
		username TEXT PRIMARY KEY,
		chat_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intents (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		description TEXT NOT NULL,
		examples_positive TEXT NOT NULL DEFAULT '[]',
		examples_negative TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_intents_username ON intents(username);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// UpsertTweet inserts or fully overwrites a tweet by id.
func (db *DB) UpsertTweet(ctx context.Context, tweet *twitter.Tweet) error {
	payload, err := json.Marshal(tweet)
	if err != nil {
		return fmt.Errorf("marshal tweet: %w", err)
	}

	query := `
	INSERT INTO tweets (id, author_id, author_handle, text, created_at, payload, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		author_id = excluded.author_id,
		author_handle = excluded.author_handle,
		text = excluded.text,
		created_at = excluded.created_at,
		payload = excluded.payload,
		fetched_at = excluded.fetched_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		tweet.ID,
		tweet.Author.ID,
		tweet.Author.UserName,
		tweet.Text,
		tweet.CreatedAt,
		string(payload),
		time.Now(),
	)
	return err
}

// UpsertTweets upserts every tweet in the batch. Per-key last write wins.
func (db *DB) UpsertTweets(ctx context.Context, tweets []twitter.Tweet) error {
	for i := range tweets {
		if err := db.UpsertTweet(ctx, &tweets[i]); err != nil {
			return fmt.Errorf("upsert tweet %s: %w", tweets[i].ID, err)
		}
	}
	return nil
}

// GetTweet retrieves a tweet by id.
func (db *DB) GetTweet(ctx context.Context, id string) (*twitter.Tweet, error) {
	query := `SELECT payload FROM tweets WHERE id = ?`

	var payload string
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tweet := &twitter.Tweet{}
	if err := json.Unmarshal([]byte(payload), tweet); err != nil {
		return nil, fmt.Errorf("unmarshal tweet payload: %w", err)
	}
	return tweet, nil
}

// GetTweetsByIDs returns the stored tweets for the given ids in request
// order, skipping ids that are not present.
func (db *DB) GetTweetsByIDs(ctx context.Context, ids []string) ([]twitter.Tweet, error) {
	tweets := make([]twitter.Tweet, 0, len(ids))
	for _, id := range ids {
		tweet, err := db.GetTweet(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		tweets = append(tweets, *tweet)
	}
	return tweets, nil
}

// ReplaceFollowings replaces the followings snapshot and records its creation
// timestamp.
func (db *DB) ReplaceFollowings(ctx context.Context, followings []twitter.Following, createdAt time.Time) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM followings`); err != nil {
		return fmt.Errorf("clear followings: %w", err)
	}

	insert := `INSERT INTO followings (id, handle, name, payload) VALUES (?, ?, ?, ?)`
	for i := range followings {
		f := &followings[i]
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal following: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, f.ID, f.UserName, f.Name, string(payload)); err != nil {
			return fmt.Errorf("insert following %s: %w", f.ID, err)
		}
	}

	setSentinel := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := tx.ExecContext(ctx, setSentinel, followingsCreatedAtKey,
		fmt.Sprintf("%d", createdAt.UnixMilli())); err != nil {
		return fmt.Errorf("set followings sentinel: %w", err)
	}

	return tx.Commit()
}

// FollowingsCreatedAt returns the snapshot creation time in epoch
// milliseconds, or NotYetCreated when the snapshot has never been fetched.
func (db *DB) FollowingsCreatedAt(ctx context.Context) (int64, error) {
	value, err := db.GetSetting(ctx, followingsCreatedAtKey)
	if err == ErrNotFound {
		return NotYetCreated, nil
	}
	if err != nil {
		return 0, err
	}

	var createdAt int64
	if _, err := fmt.Sscanf(value, "%d", &createdAt); err != nil {
		return 0, fmt.Errorf("parse followings sentinel %q: %w", value, err)
	}
	return createdAt, nil
}

// InvalidateFollowings resets the snapshot sentinel so the next bootstrap
// fetches again.
func (db *DB) InvalidateFollowings(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, followingsCreatedAtKey)
	return err
}

// GetFollowings returns the stored followings snapshot.
func (db *DB) GetFollowings(ctx context.Context) ([]twitter.Following, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT payload FROM followings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followings []twitter.Following
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var f twitter.Following
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			return nil, fmt.Errorf("unmarshal following payload: %w", err)
		}
		followings = append(followings, f)
	}
	return followings, rows.Err()
}

// BindRecipient maps a username to a delivery chat id.
func (db *DB) BindRecipient(ctx context.Context, username string, chatID int64) error {
	query := `
	INSERT INTO recipients (username, chat_id) VALUES (?, ?)
	ON CONFLICT(username) DO UPDATE SET chat_id = excluded.chat_id
	`
	_, err := db.conn.ExecContext(ctx, query, username, chatID)
	return err
}

// GetChatID returns the delivery chat id bound to a username.
func (db *DB) GetChatID(ctx context.Context, username string) (int64, error) {
	var chatID int64
	err := db.conn.QueryRowContext(ctx, `SELECT chat_id FROM recipients WHERE username = ?`, username).Scan(&chatID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return chatID, err
}

// AddIntent stores an intent for a recipient.
func (db *DB) AddIntent(ctx context.Context, intent *Intent) error {
	positive, err := json.Marshal(intent.ExamplesPositive)
	if err != nil {
		return fmt.Errorf("marshal positive examples: %w", err)
	}
	negative, err := json.Marshal(intent.ExamplesNegative)
	if err != nil {
		return fmt.Errorf("marshal negative examples: %w", err)
	}

	query := `
	INSERT INTO intents (id, username, description, examples_positive, examples_negative)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		username = excluded.username,
		description = excluded.description,
		examples_positive = excluded.examples_positive,
		examples_negative = excluded.examples_negative
	`
	_, err = db.conn.ExecContext(ctx, query,
		intent.ID, intent.Username, intent.Description, string(positive), string(negative))
	return err
}

// GetIntents returns all intents bound to a username.
func (db *DB) GetIntents(ctx context.Context, username string) ([]Intent, error) {
	query := `
	SELECT id, username, description, examples_positive, examples_negative
	FROM intents WHERE username = ? ORDER BY id
	`
	rows, err := db.conn.QueryContext(ctx, query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []Intent
	for rows.Next() {
		var intent Intent
		var positive, negative string
		if err := rows.Scan(&intent.ID, &intent.Username, &intent.Description, &positive, &negative); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(positive), &intent.ExamplesPositive); err != nil {
			return nil, fmt.Errorf("unmarshal positive examples: %w", err)
		}
		if err := json.Unmarshal([]byte(negative), &intent.ExamplesNegative); err != nil {
			return nil, fmt.Errorf("unmarshal negative examples: %w", err)
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

// DeleteIntent removes an intent by id.
func (db *DB) DeleteIntent(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM intents WHERE id = ?`, id)
	return err
}

// GetSetting retrieves a setting value by key.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting stores or updates a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := db.conn.ExecContext(ctx, query, key, value)
	return err
}
