// Package wordpress is a small client for the WordPress REST API
// (/wp-json/wp/v2) authenticated with an application password.
package wordpress

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

	"schooldesk/internal/observability"

	"github.com/tidwall/gjson"
)

// ErrNotConfigured is returned when the site URL or credentials are missing.
var ErrNotConfigured = errors.New("wordpress is not configured")

// ErrResponseTooLarge reports a REST response over maxResponseBytes.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

const maxResponseBytes = 4 << 20

// Config configures the client.
type Config struct {
	BaseURL     string
	Username    string
	AppPassword string
	PostStatus  string
	HTTPClient  *http.Client
}

// Post is the subset of a WordPress post the pipeline writes.
type Post struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	Excerpt       string `json:"excerpt,omitempty"`
	Slug          string `json:"slug,omitempty"`
	Status        string `json:"status"`
	Tags          []int  `json:"tags,omitempty"`
	FeaturedMedia *int64 `json:"featured_media,omitempty"`
}

// PublishedPost is what WordPress returns for a created post.
type PublishedPost struct {
	ID   int64
	Link string
}

// Media is an uploaded attachment.
type Media struct {
	ID        int64
	SourceURL string
}

// Tag is a post tag.
type Tag struct {
	ID   int
	Name string
	Slug string
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wordpress: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("wordpress: unexpected status %d", e.Status)
}

// Client talks to one WordPress site.
type Client struct {
	cfg  Config
	base string
	log  *observability.UpstreamLogger
}

// New creates a client. The zero BaseURL yields a client whose calls fail with ErrNotConfigured.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(cfg.PostStatus) == "" {
		cfg.PostStatus = "publish"
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Client{cfg: cfg, base: base, log: observability.NewUpstreamLogger("wordpress")}
}

// Configured reports whether the site URL and credentials are present.
func (c *Client) Configured() bool {
	return c.base != "" && c.cfg.Username != "" && c.cfg.AppPassword != ""
}

// CreatePost publishes a post with the configured status.
func (c *Client) CreatePost(ctx context.Context, post Post) (*PublishedPost, error) {
	if post.Status == "" {
		post.Status = c.cfg.PostStatus
	}
	body, err := json.Marshal(post)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, "create_post", http.MethodPost, "/posts", "application/json", bytes.NewReader(body), nil)
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(raw, "id")
	if !id.Exists() {
		return nil, fmt.Errorf("wordpress: create post response missing id")
	}
	return &PublishedPost{ID: id.Int(), Link: gjson.GetBytes(raw, "link").String()}, nil
}

// UploadMedia uploads a file as an attachment.
func (c *Client) UploadMedia(ctx context.Context, filename, contentType string, data io.Reader) (*Media, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename=%q`, filename),
	}
	raw, err := c.do(ctx, "upload_media", http.MethodPost, "/media", contentType, data, headers)
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(raw, "id")
	if !id.Exists() {
		return nil, fmt.Errorf("wordpress: upload response missing id")
	}
	return &Media{ID: id.Int(), SourceURL: gjson.GetBytes(raw, "source_url").String()}, nil
}

// GetTags searches tags by name, or lists the first page when search is empty.
func (c *Client) GetTags(ctx context.Context, search string) ([]Tag, error) {
	q := url.Values{}
	q.Set("per_page", "100")
	if search != "" {
		q.Set("search", search)
	}
	raw, err := c.do(ctx, "get_tags", http.MethodGet, "/tags?"+q.Encode(), "", nil, nil)
	if err != nil {
		return nil, err
	}
	var tags []Tag
	for _, item := range gjson.ParseBytes(raw).Array() {
		tags = append(tags, Tag{
			ID:   int(item.Get("id").Int()),
			Name: item.Get("name").String(),
			Slug: item.Get("slug").String(),
		})
	}
	return tags, nil
}

// CreateTag creates a tag. If WordPress reports that it already exists, the
// existing id from the error payload is returned.
func (c *Client) CreateTag(ctx context.Context, name string) (*Tag, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	raw, err := c.do(ctx, "create_tag", http.MethodPost, "/tags", "application/json", bytes.NewReader(body), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "term_exists" && len(raw) > 0 {
			if id := gjson.GetBytes(raw, "data.term_id"); id.Exists() {
				return &Tag{ID: int(id.Int()), Name: name}, nil
			}
		}
		return nil, err
	}
	return &Tag{
		ID:   int(gjson.GetBytes(raw, "id").Int()),
		Name: gjson.GetBytes(raw, "name").String(),
		Slug: gjson.GetBytes(raw, "slug").String(),
	}, nil
}

// EnsureTags resolves tag names to ids, creating the ones that do not exist.
// Matching is case-insensitive; blank and duplicate names are skipped.
func (c *Client) EnsureTags(ctx context.Context, names []string) ([]int, error) {
	if len(names) == 0 {
		return nil, nil
	}
	existing, err := c.GetTags(ctx, "")
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int, len(existing))
	for _, t := range existing {
		byName[strings.ToLower(t.Name)] = t.ID
	}

	seen := make(map[string]bool, len(names))
	ids := make([]int, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		if id, ok := byName[key]; ok {
			ids = append(ids, id)
			continue
		}
		tag, err := c.CreateTag(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("create tag %q: %w", name, err)
		}
		ids = append(ids, tag.ID)
	}
	return ids, nil
}

// do performs an authenticated request and returns the body. For API errors the
// body is returned alongside the error.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, headers map[string]string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	defer observability.TrackUpstream("wordpress", op)()
	ctx, span := observability.GetTraceLayer().TraceUpstreamCall(ctx, "wordpress", op)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/wp-json/wp/v2"+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.AppPassword)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		observability.FailSpan(span, err)
		c.log.LogCall(ctx, op, err, nil)
		return nil, fmt.Errorf("wordpress %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxResponseBytes {
		err := fmt.Errorf("wordpress %s: %w", op, ErrResponseTooLarge)
		observability.FailSpan(span, err)
		c.log.LogCall(ctx, op, err, map[string]interface{}{"status": resp.StatusCode})
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Status:  resp.StatusCode,
			Code:    gjson.GetBytes(raw, "code").String(),
			Message: gjson.GetBytes(raw, "message").String(),
		}
		observability.FailSpan(span, apiErr)
		c.log.LogCall(ctx, op, apiErr, map[string]interface{}{"status": resp.StatusCode})
		return raw, apiErr
	}
	c.log.LogCall(ctx, op, nil, map[string]interface{}{"status": resp.StatusCode})
	return raw, nil
}

// PostURL builds a fallback permalink when WordPress omits "link".
func (c *Client) PostURL(id int64) string {
	return c.base + "/?p=" + strconv.FormatInt(id, 10)
}
