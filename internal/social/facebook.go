package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"schooldesk/internal/models"
)

// FacebookClient talks to the Graph API on behalf of a page.
type FacebookClient struct {
	graphURL string
	http     *http.Client
}

// NewFacebookClient creates a client for the given Graph API base URL
// (for example https://graph.facebook.com/v19.0).
func NewFacebookClient(graphURL string, client *http.Client) *FacebookClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &FacebookClient{graphURL: strings.TrimRight(graphURL, "/"), http: client}
}

func (c *FacebookClient) Platform() models.Platform { return models.PlatformFacebook }

func (c *FacebookClient) get(ctx context.Context, op, path string, query url.Values) (resultGetter, error) {
	parsed, _, err := send(ctx, c.http, request{
		platform: models.PlatformFacebook,
		op:       op,
		method:   http.MethodGet,
		url:      c.graphURL + path + "?" + query.Encode(),
	})
	return resultGetter{parsed}, err
}

// ExchangePageToken turns a user (or page) token into a page token for pageID.
// It tries the page's own access_token field, then the user's page list, and
// finally treats the token as a page token when /me is the page itself.
func (c *FacebookClient) ExchangePageToken(ctx context.Context, token, pageID string) (string, error) {
	if token == "" || pageID == "" {
		return "", errors.New("facebook: token and page id are required")
	}

	q := url.Values{"fields": {"access_token"}, "access_token": {token}}
	if res, err := c.get(ctx, "page_token", "/"+url.PathEscape(pageID), q); err == nil {
		if pageToken := res.str("access_token"); pageToken != "" {
			return pageToken, nil
		}
	}

	q = url.Values{"access_token": {token}, "fields": {"id,access_token"}}
	if res, err := c.get(ctx, "me_accounts", "/me/accounts", q); err == nil {
		for _, page := range res.Get("data").Array() {
			if page.Get("id").String() == pageID && page.Get("access_token").String() != "" {
				return page.Get("access_token").String(), nil
			}
		}
	}

	res, err := c.get(ctx, "me", "/me", url.Values{"access_token": {token}})
	if err != nil {
		return "", err
	}
	if res.str("id") == pageID {
		return token, nil
	}
	return "", fmt.Errorf("facebook: token has no access to page %s", pageID)
}

// Validate reports whether the token is still accepted. A rejection is (false, nil);
// transport failures are returned as errors.
func (c *FacebookClient) Validate(ctx context.Context, token string) (bool, error) {
	res, err := c.get(ctx, "validate", "/me", url.Values{"access_token": {token}})
	if err != nil {
		var perr *PlatformError
		if errors.As(err, &perr) && perr.Rejected() {
			return false, nil
		}
		return false, err
	}
	return res.str("id") != "", nil
}

// Post publishes a photo post when imageURL is set, otherwise a feed post.
func (c *FacebookClient) Post(ctx context.Context, creds Credentials, text, imageURL string) (string, error) {
	fb, ok := creds.(FacebookCredentials)
	if !ok {
		return "", fmt.Errorf("facebook: unexpected credentials %T", creds)
	}

	form := url.Values{"access_token": {fb.AccessToken}}
	path := "/" + url.PathEscape(fb.PageID)
	op := "post_feed"
	if imageURL != "" {
		path += "/photos"
		op = "post_photo"
		form.Set("url", imageURL)
		form.Set("caption", text)
	} else {
		path += "/feed"
		form.Set("message", text)
	}

	parsed, _, err := send(ctx, c.http, request{
		platform:    models.PlatformFacebook,
		op:          op,
		method:      http.MethodPost,
		url:         c.graphURL + path,
		body:        formBody(form),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", err
	}
	if id := parsed.Get("post_id").String(); id != "" {
		return id, nil
	}
	if id := parsed.Get("id").String(); id != "" {
		return id, nil
	}
	return "", errors.New("facebook: response missing post id")
}
