// Package bluesky implements the platform.Adapter contract against the
// Bluesky / AT Protocol XRPC API. It is a minimal hand-rolled client: app
// password session management, notification and search fetching, profile
// lookup, and reply posting, with platform errors mapped once at the HTTP
// boundary.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tbourn/go-engage-backend/internal/platform"
)

const defaultPDS = "https://bsky.social"

// maxPostLength is Bluesky's reply length limit.
const maxPostLength = 300

// getPostsBatch is the API's cap on uris per getPosts call.
const getPostsBatch = 25

const defaultFetchLimit = 50

// Client is a minimal Bluesky/AT Protocol client implementing
// platform.Adapter. Safe for concurrent use; the session token is refreshed
// transparently when the PDS reports it expired.
type Client struct {
	pds        string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu         sync.Mutex
	identifier string
	password   string
	accessJwt  string
	did        string
	handle     string
}

// Compile-time check that Client satisfies the adapter contract.
var _ platform.Adapter = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (e.g. for tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRateLimit overrides the client-side request throttle.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewClient creates a Bluesky client. If pds is empty, it defaults to
// https://bsky.social.
func NewClient(pds string, opts ...Option) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	c := &Client{
		pds: strings.TrimRight(pds, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Stay well under the PDS limits even during bursts.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates with the PDS using an App Password (not the account
// password) and stores the credentials for transparent session refresh.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	c.mu.Lock()
	c.identifier = identifier
	c.password = password
	c.mu.Unlock()
	return c.createSession(ctx)
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.did
}

// Handle returns the authenticated user's handle. Only valid after Login.
func (c *Client) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *Client) createSession(ctx context.Context) error {
	c.mu.Lock()
	body := map[string]string{
		"identifier": c.identifier,
		"password":   c.password,
	}
	c.mu.Unlock()

	var resp sessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/xrpc/com.atproto.server.createSession", "createSession", nil, body, &resp, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	c.handle = resp.Handle
	c.mu.Unlock()
	return nil
}

// FetchReplies implements platform.Adapter. It lists reply and mention
// notifications indexed after since, then hydrates the referenced posts so
// engagement counters are populated.
func (c *Client) FetchReplies(ctx context.Context, since time.Time, limit int) ([]platform.RawPost, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	params := url.Values{}
	params.Set("limit", "100")
	var nr notificationsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/xrpc/app.bsky.notification.listNotifications", "listNotifications", params, nil, &nr, true); err != nil {
		return nil, err
	}

	uris := make([]string, 0, limit)
	for _, n := range nr.Notifications {
		if n.Reason != "reply" && n.Reason != "mention" {
			continue
		}
		if !since.IsZero() {
			if at := parseTime(n.IndexedAt); !at.After(since) {
				continue
			}
		}
		uris = append(uris, n.URI)
		if len(uris) >= limit {
			break
		}
	}
	return c.hydratePosts(ctx, uris)
}

// SearchPosts implements platform.Adapter. Each keyword is queried
// separately; results are merged and deduplicated by post URI, capped at
// limit across all keywords.
func (c *Client) SearchPosts(ctx context.Context, keywords []string, since time.Time, limit int) ([]platform.RawPost, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	seen := make(map[string]struct{}, limit)
	out := make([]platform.RawPost, 0, limit)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}

		params := url.Values{}
		params.Set("q", kw)
		params.Set("sort", "latest")
		params.Set("limit", strconv.Itoa(limit))
		if !since.IsZero() {
			params.Set("since", since.UTC().Format(time.RFC3339))
		}

		var sr searchPostsResponse
		if err := c.doJSON(ctx, http.MethodGet, "/xrpc/app.bsky.feed.searchPosts", "searchPosts", params, nil, &sr, true); err != nil {
			return nil, err
		}
		for _, pv := range sr.Posts {
			if _, dup := seen[pv.URI]; dup {
				continue
			}
			seen[pv.URI] = struct{}{}
			out = append(out, c.mapPost(pv))
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// GetAuthor implements platform.Adapter, fetching the full profile
// (including follower counts) for a DID or handle.
func (c *Client) GetAuthor(ctx context.Context, id string) (platform.RawAuthor, error) {
	params := url.Values{}
	params.Set("actor", id)

	var pr profileResponse
	if err := c.doJSON(ctx, http.MethodGet, "/xrpc/app.bsky.actor.getProfile", "getProfile", params, nil, &pr, true); err != nil {
		return platform.RawAuthor{}, err
	}
	return platform.RawAuthor{
		ID:            pr.DID,
		Handle:        pr.Handle,
		DisplayName:   pr.DisplayName,
		Bio:           pr.Description,
		FollowerCount: pr.FollowersCount,
	}, nil
}

// Constraints implements platform.Adapter.
func (c *Client) Constraints() platform.Constraints {
	return platform.Constraints{MaxPostLength: maxPostLength}
}

// Post implements platform.Adapter. The parent post is re-fetched first to
// obtain its CID and thread root; a vanished parent surfaces as
// PostNotFoundError rather than an opaque createRecord failure.
func (c *Client) Post(ctx context.Context, parentPostID, text string) (platform.PostResult, error) {
	parent, err := c.getPost(ctx, parentPostID)
	if err != nil {
		return platform.PostResult{}, err
	}
	if parent == nil {
		return platform.PostResult{}, &platform.PostNotFoundError{PostID: parentPostID}
	}

	root := postRef{URI: parent.URI, CID: parent.CID}
	if parent.Record.Reply != nil && parent.Record.Reply.Root.URI != "" {
		root = parent.Record.Reply.Root
	}

	now := time.Now().UTC()
	c.mu.Lock()
	did, handle := c.did, c.handle
	c.mu.Unlock()

	body := createRecordRequest{
		Repo:       did,
		Collection: "app.bsky.feed.post",
		Record: postRecord{
			Type:      "app.bsky.feed.post",
			Text:      text,
			CreatedAt: now.Format(time.RFC3339),
			Reply: &replyRef{
				Root:   root,
				Parent: postRef{URI: parent.URI, CID: parent.CID},
			},
		},
	}

	var resp createRecordResponse
	if err := c.doJSON(ctx, http.MethodPost, "/xrpc/com.atproto.repo.createRecord", "createRecord", nil, body, &resp, true); err != nil {
		return platform.PostResult{}, err
	}

	profile := handle
	if profile == "" {
		profile = did
	}
	return platform.PostResult{
		PostID:   resp.URI,
		PostURL:  webPostURL(profile, resp.URI),
		PostedAt: now,
	}, nil
}

// getPost fetches a single post view, or nil when the post no longer exists.
func (c *Client) getPost(ctx context.Context, uri string) (*postView, error) {
	params := url.Values{}
	params.Add("uris", uri)
	var gr getPostsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/xrpc/app.bsky.feed.getPosts", "getPosts", params, nil, &gr, true); err != nil {
		return nil, err
	}
	if len(gr.Posts) == 0 {
		return nil, nil
	}
	return &gr.Posts[0], nil
}

// hydratePosts resolves post URIs into full post views in API-sized batches.
func (c *Client) hydratePosts(ctx context.Context, uris []string) ([]platform.RawPost, error) {
	out := make([]platform.RawPost, 0, len(uris))
	for start := 0; start < len(uris); start += getPostsBatch {
		end := start + getPostsBatch
		if end > len(uris) {
			end = len(uris)
		}

		params := url.Values{}
		for _, u := range uris[start:end] {
			params.Add("uris", u)
		}
		var gr getPostsResponse
		if err := c.doJSON(ctx, http.MethodGet, "/xrpc/app.bsky.feed.getPosts", "getPosts", params, nil, &gr, true); err != nil {
			return nil, err
		}
		for _, pv := range gr.Posts {
			out = append(out, c.mapPost(pv))
		}
	}
	return out, nil
}

func (c *Client) mapPost(pv postView) platform.RawPost {
	created := parseTime(pv.Record.CreatedAt)
	if created.IsZero() {
		created = parseTime(pv.IndexedAt)
	}
	return platform.RawPost{
		ID:        pv.URI,
		URL:       webPostURL(pv.Author.Handle, pv.URI),
		Text:      pv.Record.Text,
		CreatedAt: created,
		Author: platform.RawAuthor{
			ID:          pv.Author.DID,
			Handle:      pv.Author.Handle,
			DisplayName: pv.Author.DisplayName,
		},
		LikeCount:   pv.LikeCount,
		RepostCount: pv.RepostCount,
		ReplyCount:  pv.ReplyCount,
	}
}

// doJSON performs one XRPC call. Requests are rebuilt per attempt so an
// expired session can be refreshed and the call replayed exactly once.
func (c *Client) doJSON(ctx context.Context, method, path, op string, params url.Values, body, out any, authed bool) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &platform.PostingError{Op: op, Err: err, Transient: true}
		}

		token := ""
		if authed {
			c.mu.Lock()
			token = c.accessJwt
			c.mu.Unlock()
			if token == "" {
				return &platform.AuthError{Reason: "not authenticated: call Login first"}
			}
		}

		u := c.pds + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}

		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("bluesky: marshal %s request: %w", op, err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return fmt.Errorf("bluesky: create %s request: %w", op, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			return &platform.PostingError{Op: op, Err: err, Transient: true}
		}

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			defer res.Body.Close()
			if out == nil {
				return nil
			}
			raw, rerr := io.ReadAll(io.LimitReader(res.Body, 1<<20))
			if rerr != nil {
				return &platform.PostingError{Op: op, Err: rerr, Transient: true}
			}
			if len(raw) == 0 {
				return nil
			}
			if derr := json.Unmarshal(raw, out); derr != nil {
				return fmt.Errorf("bluesky: decode %s response: %w", op, derr)
			}
			return nil
		}

		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		res.Body.Close()

		// An expired session gets one transparent refresh-and-replay.
		if authed && attempt == 0 && res.StatusCode == http.StatusUnauthorized && xrpcErrorCode(raw) == "ExpiredToken" {
			if serr := c.createSession(ctx); serr != nil {
				return serr
			}
			continue
		}
		return mapStatusError(op, res.StatusCode, res.Header.Get("Retry-After"), raw)
	}
}

// mapStatusError translates a non-2xx XRPC response into the platform
// error taxonomy. This is the only place status codes are interpreted.
func mapStatusError(op string, status int, retryAfter string, body []byte) error {
	msg := xrpcErrorMessage(body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &platform.AuthError{Reason: msg}
	case status == http.StatusTooManyRequests:
		return &platform.RateLimitError{RetryAfter: parseRetryAfter(retryAfter)}
	case status >= 500:
		return &platform.PostingError{
			Op:        op,
			Err:       fmt.Errorf("status %d: %s", status, msg),
			Transient: true,
		}
	case strings.Contains(strings.ToLower(msg), "violat"):
		return &platform.ContentViolationError{Reason: msg}
	default:
		return &platform.PostingError{
			Op:        op,
			Err:       fmt.Errorf("status %d: %s", status, msg),
			Transient: false,
		}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func xrpcErrorCode(body []byte) string {
	var xe xrpcError
	if err := json.Unmarshal(body, &xe); err != nil {
		return ""
	}
	return xe.Error
}

func xrpcErrorMessage(body []byte) string {
	var xe xrpcError
	if err := json.Unmarshal(body, &xe); err == nil && xe.Message != "" {
		return xe.Message
	}
	if len(body) > 0 {
		return string(body)
	}
	return "no response body"
}

// parseTime parses an RFC3339 timestamp, returning the zero time on failure.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// webPostURL builds the human-facing bsky.app link for an AT URI.
// at://did:plc:xyz/app.bsky.feed.post/rkey -> https://bsky.app/profile/<p>/post/rkey
func webPostURL(profile, atURI string) string {
	rest := strings.TrimPrefix(atURI, "at://")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return ""
	}
	if profile == "" {
		profile = parts[0]
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", profile, parts[2])
}

// --- wire types ---

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type sessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type profileResponse struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"displayName"`
	Description    string `json:"description"`
	FollowersCount int    `json:"followersCount"`
}

type postRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRef struct {
	Root   postRef `json:"root"`
	Parent postRef `json:"parent"`
}

type postView struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		DID         string `json:"did"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Record struct {
		Text      string    `json:"text"`
		CreatedAt string    `json:"createdAt"`
		Reply     *replyRef `json:"reply"`
	} `json:"record"`
	ReplyCount  int    `json:"replyCount"`
	RepostCount int    `json:"repostCount"`
	LikeCount   int    `json:"likeCount"`
	IndexedAt   string `json:"indexedAt"`
}

type notificationsResponse struct {
	Notifications []struct {
		URI       string `json:"uri"`
		Reason    string `json:"reason"`
		IndexedAt string `json:"indexedAt"`
	} `json:"notifications"`
}

type searchPostsResponse struct {
	Posts []postView `json:"posts"`
}

type getPostsResponse struct {
	Posts []postView `json:"posts"`
}

type createRecordRequest struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

type postRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}
