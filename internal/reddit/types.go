package reddit

import "errors"

// ErrSubredditNotFound is returned when a user-supplied name resolves to nothing.
var ErrSubredditNotFound = errors.New("subreddit not found")

// Post is one fetched submission. It is constructed fresh per fetch and is
// never mutated after decoding.
type Post struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Subreddit   string   `json:"subreddit"`
	Ups         int      `json:"ups"`
	NumComments int      `json:"num_comments"`
	URL         string   `json:"url"`
	Permalink   string   `json:"permalink"`
	Media       *Media   `json:"media,omitempty"`
	Preview     *Preview `json:"preview,omitempty"`
}

// Media is the native media block of a post.
type Media struct {
	RedditVideo *Video `json:"reddit_video,omitempty"`
}

// Preview carries the derived preview block; a video preview here means the
// post can be delivered as an animation even without native media.
type Preview struct {
	RedditVideoPreview *Video `json:"reddit_video_preview,omitempty"`
}

type Video struct {
	FallbackURL string `json:"fallback_url"`
}

// Subreddit is a resolved source handle.
type Subreddit struct {
	DisplayName string `json:"display_name"`
	Title       string `json:"title"`
	Subscribers int    `json:"subscribers"`
}
