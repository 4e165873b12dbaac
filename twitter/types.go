package twitter

import "encoding/json"

// Tweet is a single tweet as delivered by the upstream API. Quoted and
// retweeted tweets embed the same shape; embedded tweets are snapshots taken
// at fetch time, never back-references.
type Tweet struct {
	Type             string          `json:"type"`
	ID               string          `json:"id"`
	URL              string          `json:"url"`
	TwitterURL       string          `json:"twitterUrl"`
	Text             string          `json:"text"`
	Source           string          `json:"source"`
	RetweetCount     int             `json:"retweetCount"`
	ReplyCount       int             `json:"replyCount"`
	LikeCount        int             `json:"likeCount"`
	QuoteCount       int             `json:"quoteCount"`
	ViewCount        int             `json:"viewCount"`
	BookmarkCount    int             `json:"bookmarkCount"`
	CreatedAt        string          `json:"createdAt"`
	Lang             string          `json:"lang"`
	IsReply          bool            `json:"isReply"`
	InReplyToID      *string         `json:"inReplyToId"`
	ConversationID   *string         `json:"conversationId"`
	InReplyToUserID  *string         `json:"inReplyToUserId"`
	InReplyToUser    *string         `json:"inReplyToUsername"`
	Author           Author          `json:"author"`
	QuotedTweet      *Tweet          `json:"quoted_tweet,omitempty"`
	RetweetedTweet   *Tweet          `json:"retweeted_tweet,omitempty"`
	ExtendedEntities json.RawMessage `json:"extendedEntities,omitempty"`
	Card             json.RawMessage `json:"card,omitempty"`
	Place            json.RawMessage `json:"place,omitempty"`
	Entities         json.RawMessage `json:"entities,omitempty"`
	Article          json.RawMessage `json:"article,omitempty"`
}

// Author is the tweet author's profile embedded by value inside a Tweet, a
// denormalized snapshot at fetch time rather than a live reference.
type Author struct {
	Type            string          `json:"type"`
	UserName        string          `json:"userName"`
	URL             string          `json:"url"`
	TwitterURL      string          `json:"twitterUrl"`
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	IsVerified      bool            `json:"isVerified"`
	IsBlueVerified  bool            `json:"isBlueVerified"`
	VerifiedType    *string         `json:"verifiedType"`
	ProfilePicture  string          `json:"profilePicture"`
	CoverPicture    string          `json:"coverPicture"`
	Description     string          `json:"description"`
	Location        string          `json:"location"`
	Followers       int             `json:"followers"`
	Following       int             `json:"following"`
	CanDM           bool            `json:"canDm"`
	CreatedAt       string          `json:"createdAt"`
	FavouritesCount int             `json:"favouritesCount"`
	MediaCount      int             `json:"mediaCount"`
	StatusesCount   int             `json:"statusesCount"`
	IsTranslator    bool            `json:"isTranslator"`
	IsAutomated     bool            `json:"isAutomated"`
	AutomatedBy     *string         `json:"automatedBy"`
	PinnedTweetIDs  []string        `json:"pinnedTweetIds"`
	Entities        json.RawMessage `json:"entities,omitempty"`
	ProfileBio      json.RawMessage `json:"profile_bio,omitempty"`
}

// Following is an account followed by the tracked user.
type Following struct {
	Type           string          `json:"type"`
	UserName       string          `json:"userName"`
	URL            string          `json:"url"`
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	IsBlueVerified bool            `json:"isBlueVerified"`
	Description    string          `json:"description"`
	Location       string          `json:"location"`
	Followers      int             `json:"followers"`
	Following      int             `json:"following"`
	CreatedAt      string          `json:"createdAt"`
	StatusesCount  int             `json:"statusesCount"`
	Unavailable    bool            `json:"unavailable"`
	ProfileBio     json.RawMessage `json:"profile_bio,omitempty"`
}

// Upstream response statuses. The API reports domain errors through this
// field on a 200 response rather than through HTTP status codes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// FollowingsResponse is the followings-by-user endpoint response.
type FollowingsResponse struct {
	Followings  []Following `json:"followings,omitempty"`
	HasNextPage bool        `json:"has_next_page,omitempty"`
	NextCursor  string      `json:"next_cursor,omitempty"`
	Message     string      `json:"message,omitempty"`
	Status      string      `json:"status"`
}

// UserInfoResponse is the user-info endpoint response. Data is kept raw
// because the upstream schema for it is only partially documented.
type UserInfoResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	Status string          `json:"status"`
}

// TweetsResponse is shared by the recent-tweets-by-user and tweets-by-ids
// endpoints.
type TweetsResponse struct {
	Tweets      []Tweet `json:"tweets"`
	HasNextPage bool    `json:"has_next_page,omitempty"`
	NextCursor  string  `json:"next_cursor,omitempty"`
	Status      string  `json:"status"`
	Message     string  `json:"message,omitempty"`
}
