// Package remote talks to the note service's private web API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/mixport/internal/models"
	"github.com/starford/mixport/internal/session"
)

const (
	listPath   = "/note/full/page/"
	notePath   = "/note/note/%s/"
	imagePath  = "/file/full"
	maxBodyLen = 64 << 20 // 64 MB
)

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s: HTTP %d", e.URL, e.Code)
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Session           session.Source
	UserAgent         string
	PageSize          int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client issues single, un-retried requests against the remote API.
type Client struct {
	base      *url.URL
	session   session.Source
	userAgent string
	pageSize  int
	http      *http.Client
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewClient creates a Client from opts.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("remote: base url must be absolute: %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	src := opts.Session
	if src == nil {
		src = session.Static("")
	}

	return &Client{
		base:      base,
		session:   src,
		userAgent: opts.UserAgent,
		pageSize:  pageSize,
		http:      hc,
		limiter:   rate.NewLimiter(limit, burst),
		now:       time.Now,
	}, nil
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type listData struct {
	Folders []models.Folder      `json:"folders"`
	Entries []models.NoteSummary `json:"entries"`
	SyncTag string               `json:"syncTag"`
}

type noteData struct {
	Entry *models.Note `json:"entry"`
}

// ListPage fetches one listing page. An empty cursor requests the first page.
func (c *Client) ListPage(ctx context.Context, cursor string) (models.Page, error) {
	q := url.Values{}
	q.Set("ts", c.timestamp())
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("syncTag", cursor)
	}

	var env envelope[listData]
	if err := c.getJSON(ctx, c.endpoint(listPath, q), &env); err != nil {
		return models.Page{}, err
	}
	return models.Page{
		Folders:    env.Data.Folders,
		Entries:    env.Data.Entries,
		NextCursor: env.Data.SyncTag,
		Count:      len(env.Data.Entries),
	}, nil
}

// GetNote fetches the full note by id.
func (c *Client) GetNote(ctx context.Context, id models.ID) (models.Note, error) {
	q := url.Values{}
	q.Set("ts", c.timestamp())

	var env envelope[noteData]
	if err := c.getJSON(ctx, c.endpoint(fmt.Sprintf(notePath, url.PathEscape(id.String())), q), &env); err != nil {
		return models.Note{}, err
	}
	if env.Data.Entry == nil {
		return models.Note{}, fmt.Errorf("remote: note %s: response has no entry", id)
	}
	return *env.Data.Entry, nil
}

// FetchImage downloads the raw bytes of an embedded image.
func (c *Client) FetchImage(ctx context.Context, id string) ([]byte, error) {
	q := url.Values{}
	q.Set("type", "note_img")
	q.Set("fileid", id)
	return c.get(ctx, c.endpoint(imagePath, q))
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("remote: decode %s: %w", redact(rawURL), err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("remote: rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if cookie := c.session.Cookie(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: request %s: %w", redact(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: redact(rawURL), Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLen))
	if err != nil {
		return nil, fmt.Errorf("remote: read body %s: %w", redact(rawURL), err)
	}
	return body, nil
}

// redact drops the query string so cursors and ids stay out of error text.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
