// Package remote is the HTTP client for the users/posts/comments API.
// Failures are reported as *querysync.Error so the cache can decide what to
// retry.
package remote

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

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/codec"
)

const (
	DefaultBaseURL = "https://dummyjson.com"
	defaultMaxBody = 4 << 20
	defaultTimeout = 15 * time.Second
)

type Options struct {
	BaseURL    string       // "" => DefaultBaseURL
	HTTPClient *http.Client // nil => a client with Timeout
	Timeout    time.Duration
	// MaxBody caps response bodies in bytes; 0 => 4 MiB.
	MaxBody int
	Logger  querysync.Logger
}

type Client struct {
	base    *url.URL
	hc      *http.Client
	maxBody int
	log     querysync.Logger
}

func New(opts Options) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: base url %q: scheme must be http or https", raw)
	}
	c := &Client{base: base, hc: opts.HTTPClient, maxBody: opts.MaxBody, log: opts.Logger}
	if c.hc == nil {
		t := opts.Timeout
		if t <= 0 {
			t = defaultTimeout
		}
		c.hc = &http.Client{Timeout: t}
	}
	if c.maxBody <= 0 {
		c.maxBody = defaultMaxBody
	}
	if c.log == nil {
		c.log = querysync.NopLogger{}
	}
	return c, nil
}

func (c *Client) Users(ctx context.Context, limit, skip int) (Page[User], error) {
	return list[User](ctx, c, "/users", paging(limit, skip))
}

func (c *Client) User(ctx context.Context, id int) (User, error) {
	return call[User](ctx, c, http.MethodGet, "/users/"+strconv.Itoa(id), nil, nil)
}

func (c *Client) AddUser(ctx context.Context, in NewUser) (User, error) {
	body, err := codec.JSON[NewUser]{}.Encode(in)
	if err != nil {
		return User{}, err
	}
	return call[User](ctx, c, http.MethodPost, "/users/add", nil, body)
}

func (c *Client) UpdateUser(ctx context.Context, id int, patch UserPatch) (User, error) {
	body, err := codec.JSON[UserPatch]{}.Encode(patch)
	if err != nil {
		return User{}, err
	}
	return call[User](ctx, c, http.MethodPut, "/users/"+strconv.Itoa(id), nil, body)
}

func (c *Client) DeleteUser(ctx context.Context, id int) (Deleted, error) {
	return call[Deleted](ctx, c, http.MethodDelete, "/users/"+strconv.Itoa(id), nil, nil)
}

func (c *Client) Posts(ctx context.Context, limit, skip int) (Page[Post], error) {
	return list[Post](ctx, c, "/posts", paging(limit, skip))
}

func (c *Client) UserPosts(ctx context.Context, userID int) (Page[Post], error) {
	return list[Post](ctx, c, "/posts/user/"+strconv.Itoa(userID), nil)
}

func (c *Client) Post(ctx context.Context, id int) (Post, error) {
	return call[Post](ctx, c, http.MethodGet, "/posts/"+strconv.Itoa(id), nil, nil)
}

func (c *Client) Comments(ctx context.Context, postID int) (Page[Comment], error) {
	return list[Comment](ctx, c, "/posts/"+strconv.Itoa(postID)+"/comments", nil)
}

func (c *Client) SearchUsers(ctx context.Context, q string) (Page[User], error) {
	return list[User](ctx, c, "/users/search", url.Values{"q": {q}})
}

func (c *Client) SearchPosts(ctx context.Context, q string) (Page[Post], error) {
	return list[Post](ctx, c, "/posts/search", url.Values{"q": {q}})
}

func paging(limit, skip int) url.Values {
	return url.Values{"limit": {strconv.Itoa(limit)}, "skip": {strconv.Itoa(skip)}}
}

func list[T any](ctx context.Context, c *Client, path string, q url.Values) (Page[T], error) {
	b, err := call[listBody[T]](ctx, c, http.MethodGet, path, q, nil)
	if err != nil {
		return Page[T]{}, err
	}
	return b.page(), nil
}

func call[T any](ctx context.Context, c *Client, method, path string, q url.Values, body []byte) (T, error) {
	var zero T
	raw, err := c.do(ctx, method, path, q, body)
	if err != nil {
		return zero, err
	}
	v, err := codec.Limit[T]{Inner: codec.JSON[T]{}, MaxDecode: c.maxBody}.Decode(raw)
	if err != nil {
		return zero, fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return v, nil
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) ([]byte, error) {
	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()
	endpoint := path

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, querysync.NetworkError(endpoint, err)
	}
	defer res.Body.Close()

	// one byte over the cap lets codec.Limit report the overflow
	data, err := io.ReadAll(io.LimitReader(res.Body, int64(c.maxBody)+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, querysync.NetworkError(endpoint, err)
	}
	c.log.Debug("remote request", querysync.Fields{
		"method": method, "endpoint": endpoint, "status": res.StatusCode, "took": time.Since(start),
	})

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, querysync.HTTPError(res.StatusCode, endpoint, failure(res.StatusCode, data))
	}
	return data, nil
}

// failure extracts the API's {"message": ...} or falls back to the status text.
func failure(status int, body []byte) string {
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &m); err == nil && m.Message != "" {
		return m.Message
	}
	return "Request failed: " + http.StatusText(status)
}

// IsNotFound reports whether err is an HTTP 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, &querysync.Error{Kind: querysync.KindHTTP, Status: http.StatusNotFound})
}
