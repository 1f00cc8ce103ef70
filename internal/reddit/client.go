package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "telegag/pkg/logx"
)

const (
	defaultBaseURL  = "https://oauth.reddit.com"
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	defaultAgent    = "telegag/1.0"
)

type Config struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string

	// BaseURL / TokenURL override the API endpoints (tests, proxies).
	BaseURL  string
	TokenURL string
}

// Client talks to the Reddit JSON API using the script-app password grant.
// A blank client secret is accepted (installed-app style credentials).
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultAgent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

// Top returns the top posts of a subreddit for the given ranking window
// ("hour", "day", "week", "month", "year", "all"), newest ranking first.
func (c *Client) Top(ctx context.Context, subreddit, period string, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 1
	}
	if period == "" {
		period = "day"
	}
	q := url.Values{}
	q.Set("t", period)
	q.Set("limit", strconv.Itoa(limit))

	var listing struct {
		Data struct {
			Children []struct {
				Data Post `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	path := "/r/" + url.PathEscape(subreddit) + "/top"
	if err := c.get(ctx, path, q, &listing); err != nil {
		return nil, fmt.Errorf("top %s: %w", subreddit, err)
	}

	posts := make([]Post, 0, len(listing.Data.Children))
	for _, ch := range listing.Data.Children {
		posts = append(posts, ch.Data)
	}
	return posts, nil
}

// Resolve validates a user-supplied subreddit name and returns its canonical
// form. Unknown names return ErrSubredditNotFound.
func (c *Client) Resolve(ctx context.Context, name string) (Subreddit, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "r/")
	if name == "" {
		return Subreddit{}, ErrSubredditNotFound
	}

	q := url.Values{}
	q.Set("query", name)
	q.Set("exact", "false")

	var out struct {
		Names []string `json:"names"`
	}
	if err := c.get(ctx, "/api/search_reddit_names", q, &out); err != nil {
		return Subreddit{}, fmt.Errorf("resolve %s: %w", name, err)
	}

	for _, n := range out.Names {
		if strings.EqualFold(n, name) {
			return Subreddit{DisplayName: n}, nil
		}
	}
	if len(out.Names) == 0 {
		return Subreddit{}, ErrSubredditNotFound
	}
	// No exact hit; take the first suggestion, like the original search did.
	return Subreddit{DisplayName: out.Names[0]}, nil
}

// Popular lists popular subreddits for the menu-driven subscribe flow.
func (c *Client) Popular(ctx context.Context, limit int) ([]Subreddit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var listing struct {
		Data struct {
			Children []struct {
				Data Subreddit `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/subreddits/popular", q, &listing); err != nil {
		return nil, fmt.Errorf("popular: %w", err)
	}

	subs := make([]Subreddit, 0, len(listing.Data.Children))
	for _, ch := range listing.Data.Children {
		subs = append(subs, ch.Data)
	}
	return subs, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	if c.cfg.ClientID != "" {
		tok, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("reddit: http %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// accessToken returns a cached OAuth token, refreshing it when close to expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExp) > time.Minute {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("reddit: token request failed: http %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("reddit: empty access token")
	}

	c.token = tok.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.log.Debug("reddit token refreshed", logx.Time("expires", c.tokenExp))
	return c.token, nil
}
