// Package gateway is the HTTP implementation of store.Gateway against the feed
// backend's REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cppla/feedsync/config"
	"github.com/cppla/feedsync/models"
	"github.com/cppla/feedsync/store"
	"github.com/cppla/feedsync/utils"
)

const (
	apiPrefix    = "/api/v1"
	maxBodyBytes = 4 << 20
)

// Options configures a Client. Zero values get defaults.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RatePerSec int
	Burst      int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the feed backend. It is safe for concurrent use.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

var _ store.Gateway = (*Client)(nil)

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, opts.Burst),
		log:     opts.Logger.Named("gateway"),
	}
}

// FromConfig builds a Client from the gateway section of the application config.
func FromConfig(cfg config.AppConfig, log *zap.Logger) *Client {
	return New(Options{
		BaseURL:    cfg.GatewayBaseURL,
		Token:      cfg.GatewayToken,
		Timeout:    time.Duration(cfg.GatewayTimeoutMs) * time.Millisecond,
		RatePerSec: cfg.GatewayRatePerSec,
		Burst:      cfg.GatewayBurst,
		Logger:     log,
	})
}

func (c *Client) FetchPosts(ctx context.Context, page, size int, category string) (models.PostPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))
	if category != "" {
		q.Set("category", category)
	}
	var out models.PostPage
	err := c.do(ctx, http.MethodGet, "/posts", q, nil, &out)
	return out, err
}

func (c *Client) SearchPosts(ctx context.Context, query, cursor string, size int) (models.SearchPage, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("size", strconv.Itoa(size))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var out models.SearchPage
	err := c.do(ctx, http.MethodGet, "/posts/search", q, nil, &out)
	return out, err
}

func (c *Client) FetchPost(ctx context.Context, id models.ID) (models.Post, error) {
	var out models.Post
	err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(id.String()), nil, nil, &out)
	return out, err
}

func (c *Client) CreatePost(ctx context.Context, in models.NewPost) (models.Post, error) {
	var out models.Post
	err := c.do(ctx, http.MethodPost, "/posts", nil, in, &out)
	return out, err
}

func (c *Client) DeletePost(ctx context.Context, id models.ID) error {
	return c.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(id.String()), nil, nil, nil)
}

func (c *Client) FetchComments(ctx context.Context, postID models.ID) ([]models.Comment, error) {
	var out []models.Comment
	err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID.String())+"/comments", nil, nil, &out)
	return out, err
}

type createCommentRequest struct {
	Content         string     `json:"content"`
	ParentCommentID *models.ID `json:"parent_comment_id,omitempty"`
}

func (c *Client) CreateComment(ctx context.Context, postID models.ID, content string, parentID *models.ID) (models.Comment, error) {
	var out models.Comment
	body := createCommentRequest{Content: content, ParentCommentID: parentID}
	err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID.String())+"/comments", nil, body, &out)
	return out, err
}

func (c *Client) DeleteComment(ctx context.Context, commentID models.ID) error {
	return c.do(ctx, http.MethodDelete, "/comments/"+url.PathEscape(commentID.String()), nil, nil, nil)
}

type voteRequest struct {
	Direction models.Vote `json:"direction"`
}

func (c *Client) Vote(ctx context.Context, postID models.ID, dir models.Vote) error {
	return c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID.String())+"/vote", nil, voteRequest{Direction: dir}, nil)
}

func (c *Client) ToggleBookmark(ctx context.Context, postID models.ID) error {
	return c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID.String())+"/bookmark", nil, nil, nil)
}

// do sends one request and decodes the envelope's data into out (when non-nil).
// Every error it returns wraps one of the store sentinels.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: throttled: %w: %v", method, path, store.ErrTransient, err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}
	target := c.base + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return fmt.Errorf("%s %s: %w: %v", method, path, store.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.log.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %v", method, path, store.ErrTransient, err)
	}

	var env utils.RawResponse
	envErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if envErr == nil && env.Message != "" {
			msg = env.Message
		}
		return statusError(method, path, resp.StatusCode, msg)
	}
	if envErr != nil {
		return fmt.Errorf("%s %s: bad envelope: %w: %v", method, path, store.ErrMalformed, envErr)
	}
	if env.Code != 0 {
		return fmt.Errorf("%s %s: code %d %s: %w", method, path, env.Code, env.Message, store.ErrRejected)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return fmt.Errorf("%s %s: empty data: %w", method, path, store.ErrMalformed)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w: %v", method, path, store.ErrMalformed, err)
	}
	return nil
}

// StatusError carries the HTTP status of a failed call alongside the sentinel.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return e.kind }

func statusError(method, path string, status int, msg string) error {
	kind := store.ErrTransient
	switch {
	case status == http.StatusNotFound:
		kind = store.ErrNotFound
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		kind = store.ErrTransient
	case status >= 400 && status < 500:
		kind = store.ErrRejected
	}
	return &StatusError{Method: method, Path: path, Status: status, Message: msg, kind: kind}
}

// IsStatus reports whether err came back from the server with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
