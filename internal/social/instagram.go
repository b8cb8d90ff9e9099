package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"schooldesk/internal/models"

	"github.com/tidwall/gjson"
)

type resultGetter struct {
	gjson.Result
}

func (r resultGetter) str(path string) string {
	return r.Get(path).String()
}

// ErrImageRequired is returned for platforms that cannot post text alone.
var ErrImageRequired = errors.New("an image is required for this platform")

// InstagramClient publishes through the Instagram Graph API. Remote images
// cannot be posted in one call: a media container is created first and then published.
type InstagramClient struct {
	graphURL string
	http     *http.Client
}

// NewInstagramClient creates a client for the Graph API base URL.
func NewInstagramClient(graphURL string, client *http.Client) *InstagramClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &InstagramClient{graphURL: strings.TrimRight(graphURL, "/"), http: client}
}

func (c *InstagramClient) Platform() models.Platform { return models.PlatformInstagram }

func (c *InstagramClient) Post(ctx context.Context, creds Credentials, text, imageURL string) (string, error) {
	ig, ok := creds.(InstagramCredentials)
	if !ok {
		return "", fmt.Errorf("instagram: unexpected credentials %T", creds)
	}
	if imageURL == "" {
		return "", ErrImageRequired
	}

	base := c.graphURL + "/" + url.PathEscape(ig.AccountID)
	container, _, err := send(ctx, c.http, request{
		platform: models.PlatformInstagram,
		op:       "create_container",
		method:   http.MethodPost,
		url:      base + "/media",
		body: formBody(url.Values{
			"image_url":    {imageURL},
			"caption":      {text},
			"access_token": {ig.AccessToken},
		}),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", err
	}
	creationID := container.Get("id").String()
	if creationID == "" {
		return "", errors.New("instagram: container response missing id")
	}

	published, _, err := send(ctx, c.http, request{
		platform: models.PlatformInstagram,
		op:       "publish_container",
		method:   http.MethodPost,
		url:      base + "/media_publish",
		body: formBody(url.Values{
			"creation_id":  {creationID},
			"access_token": {ig.AccessToken},
		}),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", err
	}
	id := published.Get("id").String()
	if id == "" {
		return "", errors.New("instagram: publish response missing id")
	}
	return id, nil
}

// Validate checks that the account is reachable with the token.
func (c *InstagramClient) Validate(ctx context.Context, creds InstagramCredentials) (bool, error) {
	q := url.Values{"fields": {"id"}, "access_token": {creds.AccessToken}}
	parsed, _, err := send(ctx, c.http, request{
		platform: models.PlatformInstagram,
		op:       "validate",
		method:   http.MethodGet,
		url:      c.graphURL + "/" + url.PathEscape(creds.AccountID) + "?" + q.Encode(),
	})
	if err != nil {
		var perr *PlatformError
		if errors.As(err, &perr) && perr.Rejected() {
			return false, nil
		}
		return false, err
	}
	return parsed.Get("id").String() != "", nil
}
