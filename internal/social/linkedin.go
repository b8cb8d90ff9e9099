package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"schooldesk/internal/models"
	"schooldesk/internal/observability"

	"golang.org/x/oauth2"
)

const (
	linkedInScopes        = "openid profile email w_member_social"
	linkedInUploadPath    = `value.uploadMechanism.com\.linkedin\.digitalmedia\.uploading\.MediaUploadHttpRequest.uploadUrl`
	linkedInMaxImageBytes = 10 << 20
)

// LinkedInConfig configures OAuth and API endpoints.
type LinkedInConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// AuthURL is the OAuth base, e.g. https://www.linkedin.com/oauth/v2.
	AuthURL string
	// APIURL is the REST base, e.g. https://api.linkedin.com.
	APIURL     string
	HTTPClient *http.Client
}

// LinkedInClient handles LinkedIn OAuth and member/organization shares.
type LinkedInClient struct {
	oauth  *oauth2.Config
	apiURL string
	http   *http.Client
}

// NewLinkedInClient builds a client. Missing client credentials are reported by OAuthConfigured.
func NewLinkedInClient(cfg LinkedInConfig) *LinkedInClient {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	authURL := strings.TrimRight(cfg.AuthURL, "/")
	return &LinkedInClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       strings.Fields(linkedInScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL + "/authorization",
				TokenURL:  authURL + "/accessToken",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		http:   client,
	}
}

func (c *LinkedInClient) Platform() models.Platform { return models.PlatformLinkedIn }

// OAuthConfigured reports whether the app credentials needed for the OAuth flow are set.
func (c *LinkedInClient) OAuthConfigured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != "" && c.oauth.RedirectURL != ""
}

// AuthCodeURL returns the consent page URL carrying state.
func (c *LinkedInClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

func (c *LinkedInClient) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// Exchange trades an authorization code for a token.
func (c *LinkedInClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	defer observability.TrackUpstream(string(models.PlatformLinkedIn), "exchange_code")()
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("linkedin: exchange code: %w", err)
	}
	return tok, nil
}

// Refresh obtains a new access token from refreshToken. The returned token keeps
// refreshToken when LinkedIn does not rotate it.
func (c *LinkedInClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("linkedin: refresh token is required")
	}
	defer observability.TrackUpstream(string(models.PlatformLinkedIn), "refresh_token")()
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("linkedin: refresh token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// PersonURN looks up the member behind accessToken.
func (c *LinkedInClient) PersonURN(ctx context.Context, accessToken string) (string, error) {
	parsed, _, err := send(ctx, c.http, request{
		platform: models.PlatformLinkedIn,
		op:       "userinfo",
		method:   http.MethodGet,
		url:      c.apiURL + "/v2/userinfo",
		bearer:   accessToken,
	})
	if err != nil {
		return "", err
	}
	sub := parsed.Get("sub").String()
	if sub == "" {
		return "", errors.New("linkedin: userinfo response missing sub")
	}
	return "urn:li:person:" + sub, nil
}

// Validate reports whether the access token is still accepted.
func (c *LinkedInClient) Validate(ctx context.Context, creds LinkedInCredentials) (bool, error) {
	if _, err := c.PersonURN(ctx, creds.AccessToken); err != nil {
		var perr *PlatformError
		if errors.As(err, &perr) && perr.Rejected() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Post shares text, with the image attached when it can be uploaded. A failed
// image upload degrades to a text-only share.
func (c *LinkedInClient) Post(ctx context.Context, creds Credentials, text, imageURL string) (string, error) {
	li, ok := creds.(LinkedInCredentials)
	if !ok {
		return "", fmt.Errorf("linkedin: unexpected credentials %T", creds)
	}
	author := li.AuthorURN()
	if author == "" || li.AccessToken == "" {
		return "", models.NewConfigurationMissingError("LinkedIn author URN")
	}

	var asset string
	if imageURL != "" {
		var err error
		asset, err = c.uploadImage(ctx, li.AccessToken, author, imageURL)
		if err != nil {
			observability.GlobalLogger.WarnContext(ctx, "linkedin image upload failed, posting text only",
				slog.String("image_url", imageURL),
				slog.String("error", err.Error()),
			)
			asset = ""
		}
	}

	share := map[string]interface{}{
		"shareCommentary":    map[string]string{"text": text},
		"shareMediaCategory": "NONE",
	}
	if asset != "" {
		share["shareMediaCategory"] = "IMAGE"
		share["media"] = []map[string]string{{"status": "READY", "media": asset}}
	}
	body, err := json.Marshal(map[string]interface{}{
		"author":          author,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]interface{}{"com.linkedin.ugc.ShareContent": share},
		"visibility":      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	})
	if err != nil {
		return "", err
	}

	parsed, header, err := send(ctx, c.http, request{
		platform:    models.PlatformLinkedIn,
		op:          "ugc_post",
		method:      http.MethodPost,
		url:         c.apiURL + "/v2/ugcPosts",
		body:        bytes.NewReader(body),
		contentType: "application/json",
		bearer:      li.AccessToken,
		headers:     map[string]string{"X-Restli-Protocol-Version": "2.0.0"},
	})
	if err != nil {
		return "", err
	}
	if id := header.Get("X-Restli-Id"); id != "" {
		return id, nil
	}
	if id := parsed.Get("id").String(); id != "" {
		return id, nil
	}
	return "", errors.New("linkedin: response missing post id")
}

func (c *LinkedInClient) uploadImage(ctx context.Context, accessToken, owner, imageURL string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   owner,
			"serviceRelationships": []map[string]string{{
				"relationshipType": "OWNER",
				"identifier":       "urn:li:userGeneratedContent",
			}},
		},
	})
	if err != nil {
		return "", err
	}
	registered, _, err := send(ctx, c.http, request{
		platform:    models.PlatformLinkedIn,
		op:          "register_upload",
		method:      http.MethodPost,
		url:         c.apiURL + "/v2/assets?action=registerUpload",
		body:        bytes.NewReader(body),
		contentType: "application/json",
		bearer:      accessToken,
		headers:     map[string]string{"X-Restli-Protocol-Version": "2.0.0"},
	})
	if err != nil {
		return "", err
	}
	uploadURL := registered.Get(linkedInUploadPath).String()
	asset := registered.Get("value.asset").String()
	if uploadURL == "" || asset == "" {
		return "", errors.New("linkedin: register upload response missing upload url or asset")
	}

	image, contentType, err := c.fetchImage(ctx, imageURL)
	if err != nil {
		return "", err
	}
	if _, _, err := send(ctx, c.http, request{
		platform:    models.PlatformLinkedIn,
		op:          "upload_image",
		method:      http.MethodPut,
		url:         uploadURL,
		body:        bytes.NewReader(image),
		contentType: contentType,
		bearer:      accessToken,
	}); err != nil {
		return "", err
	}
	return asset, nil
}

func (c *LinkedInClient) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	data, err := readLimited(resp.Body, linkedInMaxImageBytes)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
