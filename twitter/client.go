package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/levabala/llm-social-filter/metrics"
)

const defaultBaseURL = "https://api.twitterapi.io"

// followingsNotYetCreated mirrors the store sentinel for a snapshot that has
// never been fetched.
const followingsNotYetCreated int64 = -1

// Store is the entity store consulted by cache-aside hooks and the
// followings bootstrap.
type Store interface {
	GetTweetsByIDs(ctx context.Context, ids []string) ([]Tweet, error)
	UpsertTweets(ctx context.Context, tweets []Tweet) error
	FollowingsCreatedAt(ctx context.Context) (int64, error)
	ReplaceFollowings(ctx context.Context, followings []Following, createdAt time.Time) error
	GetFollowings(ctx context.Context) ([]Following, error)
}

// APIError is a logical error reported by the upstream API through its
// status field on an otherwise successful transport call.
type APIError struct {
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter api %s: %s", e.Endpoint, e.Message)
}

// apiResponse lets the shared call path read the upstream status field of
// any endpoint's response.
type apiResponse interface {
	apiStatus() (status, message string)
}

func (r *FollowingsResponse) apiStatus() (string, string) { return r.Status, r.Message }
func (r *UserInfoResponse) apiStatus() (string, string)   { return r.Status, r.Msg }
func (r *TweetsResponse) apiStatus() (string, string)     { return r.Status, r.Message }

// endpoint describes one upstream call: its path, an optional pre-check
// consulted before issuing the network call, and an optional post-fetch
// write-back run on a successful response.
type endpoint[R apiResponse] struct {
	path      string
	preCheck  func(ctx context.Context, query url.Values) (R, bool, error)
	postFetch func(ctx context.Context, resp R) error
}

// Client calls the upstream REST API, short-circuiting through the entity
// store where an endpoint declares a pre-check.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	store      Store

	followings  endpoint[*FollowingsResponse]
	userInfo    endpoint[*UserInfoResponse]
	lastTweets  endpoint[*TweetsResponse]
	tweetsByIDs endpoint[*TweetsResponse]
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a new upstream API client backed by the given store.
func NewClient(apiKey string, store Store, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		store:      store,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.followings = endpoint[*FollowingsResponse]{path: "twitter/user/followings"}
	c.userInfo = endpoint[*UserInfoResponse]{path: "twitter/user/info"}
	c.lastTweets = endpoint[*TweetsResponse]{path: "twitter/user/last_tweets"}
	c.tweetsByIDs = endpoint[*TweetsResponse]{
		path: "twitter/tweets",
		preCheck: func(ctx context.Context, query url.Values) (*TweetsResponse, bool, error) {
			ids := strings.Split(query.Get("tweet_ids"), ",")
			tweets, err := store.GetTweetsByIDs(ctx, ids)
			if err != nil {
				return nil, false, fmt.Errorf("cache lookup: %w", err)
			}
			if len(tweets) != len(ids) {
				return nil, false, nil
			}
			return &TweetsResponse{
				Tweets:  tweets,
				Status:  StatusSuccess,
				Message: "from cache",
			}, true, nil
		},
		postFetch: func(ctx context.Context, resp *TweetsResponse) error {
			return store.UpsertTweets(ctx, resp.Tweets)
		},
	}

	return c
}

// call runs the cache-aside algorithm for one endpoint: pre-check, network
// call on a miss, then the post-fetch write-back on success.
func call[T any, R interface {
	*T
	apiResponse
}](ctx context.Context, c *Client, ep endpoint[R], query url.Values) (R, error) {
	if ep.preCheck != nil {
		resp, hit, err := ep.preCheck(ctx, query)
		if err != nil {
			slog.Warn("cache pre-check failed, falling through to network", "endpoint", ep.path, "error", err)
		} else if hit {
			slog.Debug("cache hit", "endpoint", ep.path)
			metrics.GatewayCacheHits.WithLabelValues(ep.path).Inc()
			return resp, nil
		}
	}
	metrics.GatewayCacheMisses.WithLabelValues(ep.path).Inc()

	callURL := fmt.Sprintf("%s/%s?%s", c.baseURL, ep.path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", ep.path, err)
	}
	defer httpResp.Body.Close()

	resp := R(new(T))
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", ep.path, err)
	}

	if status, message := resp.apiStatus(); status == StatusError {
		return resp, &APIError{Endpoint: ep.path, Message: message}
	}

	if ep.postFetch != nil {
		if err := ep.postFetch(ctx, resp); err != nil {
			return nil, fmt.Errorf("post-fetch for %s: %w", ep.path, err)
		}
	}

	return resp, nil
}

// GetFollowings fetches the accounts followed by the given user.
func (c *Client) GetFollowings(ctx context.Context, userName string) (*FollowingsResponse, error) {
	query := url.Values{"userName": {userName}}
	return call(ctx, c, c.followings, query)
}

// GetUserInfo fetches a user's profile.
func (c *Client) GetUserInfo(ctx context.Context, userName string) (*UserInfoResponse, error) {
	query := url.Values{"userName": {userName}}
	return call(ctx, c, c.userInfo, query)
}

// GetLastTweets fetches a user's recent tweets.
func (c *Client) GetLastTweets(ctx context.Context, userID, userName, cursor string, includeReplies bool) (*TweetsResponse, error) {
	query := url.Values{
		"userId":         {userID},
		"userName":       {userName},
		"cursor":         {cursor},
		"includeReplies": {fmt.Sprintf("%t", includeReplies)},
	}
	return call(ctx, c, c.lastTweets, query)
}

// GetTweetsByIDs fetches tweets by id, served from the entity store when
// every requested id is already present.
func (c *Client) GetTweetsByIDs(ctx context.Context, ids []string) (*TweetsResponse, error) {
	query := url.Values{"tweet_ids": {strings.Join(ids, ",")}}
	return call(ctx, c, c.tweetsByIDs, query)
}

// EnsureFollowings returns the followings snapshot for the tracked user,
// fetching it at most once: after the first successful fetch the snapshot is
// served from the store until explicitly invalidated.
func (c *Client) EnsureFollowings(ctx context.Context, userName string) ([]Following, error) {
	createdAt, err := c.store.FollowingsCreatedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("read followings sentinel: %w", err)
	}

	if createdAt != followingsNotYetCreated {
		followings, err := c.store.GetFollowings(ctx)
		if err != nil {
			return nil, fmt.Errorf("load followings snapshot: %w", err)
		}
		slog.Info("followings snapshot loaded from store", "count", len(followings))
		return followings, nil
	}

	resp, err := c.GetFollowings(ctx, userName)
	if err != nil {
		return nil, fmt.Errorf("fetch followings: %w", err)
	}
	if resp.Followings == nil {
		return nil, fmt.Errorf("followings response for %s carried no followings", userName)
	}

	if err := c.store.ReplaceFollowings(ctx, resp.Followings, time.Now()); err != nil {
		return nil, fmt.Errorf("persist followings snapshot: %w", err)
	}

	slog.Info("followings snapshot fetched", "user", userName, "count", len(resp.Followings))
	return resp.Followings, nil
}
