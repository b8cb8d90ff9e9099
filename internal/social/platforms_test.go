package social

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"schooldesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestFacebook_ExchangePageToken_PageField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/123", r.URL.Path)
		assert.Equal(t, "user-token", r.URL.Query().Get("access_token"))
		writeJSON(w, http.StatusOK, `{"id":"123","access_token":"page-token"}`)
	}))
	defer srv.Close()

	fb := NewFacebookClient(srv.URL, srv.Client())
	token, err := fb.ExchangePageToken(context.Background(), "user-token", "123")
	require.NoError(t, err)
	assert.Equal(t, "page-token", token)
}

func TestFacebook_ExchangePageToken_FallsBackToAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/123":
			writeJSON(w, http.StatusBadRequest, `{"error":{"message":"field not available"}}`)
		case "/me/accounts":
			writeJSON(w, http.StatusOK, `{"data":[{"id":"999","access_token":"other"},{"id":"123","access_token":"from-accounts"}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	fb := NewFacebookClient(srv.URL, srv.Client())
	token, err := fb.ExchangePageToken(context.Background(), "user-token", "123")
	require.NoError(t, err)
	assert.Equal(t, "from-accounts", token)
}

func TestFacebook_ExchangePageToken_AlreadyPageToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/123":
			writeJSON(w, http.StatusOK, `{"id":"123"}`)
		case "/me/accounts":
			writeJSON(w, http.StatusOK, `{"data":[]}`)
		case "/me":
			writeJSON(w, http.StatusOK, `{"id":"123","name":"Hillview School"}`)
		}
	}))
	defer srv.Close()

	fb := NewFacebookClient(srv.URL, srv.Client())
	token, err := fb.ExchangePageToken(context.Background(), "page-token", "123")
	require.NoError(t, err)
	assert.Equal(t, "page-token", token)

	_, err = fb.ExchangePageToken(context.Background(), "page-token", "456")
	assert.Error(t, err)
}

func TestFacebook_Post(t *testing.T) {
	var lastPath string
	var lastForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		lastPath = r.URL.Path
		lastForm = r.PostForm
		if strings.HasSuffix(r.URL.Path, "/photos") {
			writeJSON(w, http.StatusOK, `{"id":"photo_1","post_id":"123_456"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"123_789"}`)
	}))
	defer srv.Close()

	fb := NewFacebookClient(srv.URL, srv.Client())
	creds := FacebookCredentials{PageID: "123", AccessToken: "page-token"}

	id, err := fb.Post(context.Background(), creds, "Science fair winners", "https://cdn.example.com/fair.jpg")
	require.NoError(t, err)
	assert.Equal(t, "123_456", id)
	assert.Equal(t, "/123/photos", lastPath)
	assert.Equal(t, "Science fair winners", lastForm["caption"][0])
	assert.Equal(t, "https://cdn.example.com/fair.jpg", lastForm["url"][0])

	id, err = fb.Post(context.Background(), creds, "Text only", "")
	require.NoError(t, err)
	assert.Equal(t, "123_789", id)
	assert.Equal(t, "/123/feed", lastPath)
	assert.Equal(t, "Text only", lastForm["message"][0])

	_, err = fb.Post(context.Background(), TwitterCredentials{}, "x", "")
	assert.Error(t, err)
}

func TestFacebook_Validate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "good" {
			writeJSON(w, http.StatusOK, `{"id":"123"}`)
			return
		}
		writeJSON(w, http.StatusUnauthorized, `{"error":{"message":"Session has expired"}}`)
	}))
	defer srv.Close()

	fb := NewFacebookClient(srv.URL, srv.Client())
	ok, err := fb.Validate(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fb.Validate(context.Background(), "expired")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstagram_PostCreatesAndPublishesContainer(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		calls = append(calls, r.URL.Path)
		switch r.URL.Path {
		case "/ig-1/media":
			assert.Equal(t, "https://cdn.example.com/a.jpg", r.PostForm.Get("image_url"))
			writeJSON(w, http.StatusOK, `{"id":"container-9"}`)
		case "/ig-1/media_publish":
			assert.Equal(t, "container-9", r.PostForm.Get("creation_id"))
			writeJSON(w, http.StatusOK, `{"id":"media-42"}`)
		}
	}))
	defer srv.Close()

	ig := NewInstagramClient(srv.URL, srv.Client())
	creds := InstagramCredentials{AccessToken: "ig-token", AccountID: "ig-1"}

	id, err := ig.Post(context.Background(), creds, "caption", "https://cdn.example.com/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "media-42", id)
	assert.Equal(t, []string{"/ig-1/media", "/ig-1/media_publish"}, calls)

	_, err = ig.Post(context.Background(), creds, "caption", "")
	assert.ErrorIs(t, err, ErrImageRequired)
}

func TestInstagram_PlatformErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":{"message":"Invalid image URL"}}`)
	}))
	defer srv.Close()

	ig := NewInstagramClient(srv.URL, srv.Client())
	_, err := ig.Post(context.Background(), InstagramCredentials{AccessToken: "t", AccountID: "1"}, "c", "https://x/y.jpg")
	var perr *PlatformError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
	assert.Equal(t, "Invalid image URL", perr.Message)
	assert.True(t, perr.Rejected())
}

type linkedInServer struct {
	*httptest.Server
	tokenCalls    atomic.Int32
	registerFails bool
	lastUGC       map[string]interface{}
	uploaded      atomic.Bool
}

func newLinkedInServer(t *testing.T) *linkedInServer {
	t.Helper()
	ls := &linkedInServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		ls.tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			assert.Equal(t, "auth-code", r.PostForm.Get("code"))
			writeJSON(w, http.StatusOK, `{"access_token":"li-access","refresh_token":"li-refresh","expires_in":5184000}`)
		case "refresh_token":
			assert.Equal(t, "li-refresh", r.PostForm.Get("refresh_token"))
			writeJSON(w, http.StatusOK, `{"access_token":"li-access-2","expires_in":5184000}`)
		default:
			writeJSON(w, http.StatusBadRequest, `{"error":"unsupported_grant_type"}`)
		}
	})
	mux.HandleFunc("/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer revoked" {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Invalid access token"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"sub":"abc123","name":"Comms Office"}`)
	})
	mux.HandleFunc("/v2/assets", func(w http.ResponseWriter, r *http.Request) {
		if ls.registerFails {
			writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"value":{"asset":"urn:li:digitalmediaAsset:1","uploadMechanism":{"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest":{"uploadUrl":"`+ls.URL+`/upload"}}}}`)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Bearer li-access", r.Header.Get("Authorization"))
		ls.uploaded.Store(true)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/image.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	})
	mux.HandleFunc("/huge.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{0xff}, 12<<20))
	})
	mux.HandleFunc("/v2/ugcPosts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2.0.0", r.Header.Get("X-Restli-Protocol-Version"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		ls.lastUGC = body
		w.Header().Set("X-RestLi-Id", "urn:li:share:777")
		writeJSON(w, http.StatusCreated, `{}`)
	})
	ls.Server = httptest.NewServer(mux)
	t.Cleanup(ls.Close)
	return ls
}

func (ls *linkedInServer) client() *LinkedInClient {
	return NewLinkedInClient(LinkedInConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://schooldesk.example.com/api/admin/social/linkedin/callback",
		AuthURL:      ls.URL + "/oauth/v2",
		APIURL:       ls.URL,
		HTTPClient:   ls.Client(),
	})
}

func shareContent(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	specific, ok := body["specificContent"].(map[string]interface{})
	require.True(t, ok)
	share, ok := specific["com.linkedin.ugc.ShareContent"].(map[string]interface{})
	require.True(t, ok)
	return share
}

func TestLinkedIn_AuthCodeURL(t *testing.T) {
	ls := newLinkedInServer(t)
	u := ls.client().AuthCodeURL("state-1")
	assert.True(t, strings.HasPrefix(u, ls.URL+"/oauth/v2/authorization?"))
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "w_member_social")
}

func TestLinkedIn_ExchangeAndPersonURN(t *testing.T) {
	ls := newLinkedInServer(t)
	li := ls.client()

	tok, err := li.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "li-access", tok.AccessToken)
	assert.Equal(t, "li-refresh", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), tok.Expiry, time.Minute)

	urn, err := li.PersonURN(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "urn:li:person:abc123", urn)
}

func TestLinkedIn_RefreshKeepsRefreshToken(t *testing.T) {
	ls := newLinkedInServer(t)

	tok, err := ls.client().Refresh(context.Background(), "li-refresh")
	require.NoError(t, err)
	assert.Equal(t, "li-access-2", tok.AccessToken)
	assert.Equal(t, "li-refresh", tok.RefreshToken)

	_, err = ls.client().Refresh(context.Background(), "")
	assert.Error(t, err)
}

func TestLinkedIn_Validate(t *testing.T) {
	ls := newLinkedInServer(t)
	li := ls.client()

	ok, err := li.Validate(context.Background(), LinkedInCredentials{AccessToken: "li-access"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = li.Validate(context.Background(), LinkedInCredentials{AccessToken: "revoked"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinkedIn_PostWithImage(t *testing.T) {
	ls := newLinkedInServer(t)
	creds := LinkedInCredentials{AccessToken: "li-access", PersonURN: "urn:li:person:abc123", OrganizationURN: "urn:li:organization:55"}

	id, err := ls.client().Post(context.Background(), creds, "Robotics win", ls.URL+"/image.png")
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:777", id)
	assert.True(t, ls.uploaded.Load())

	assert.Equal(t, "urn:li:organization:55", ls.lastUGC["author"])
	share := shareContent(t, ls.lastUGC)
	assert.Equal(t, "IMAGE", share["shareMediaCategory"])
}

func TestLinkedIn_PostFallsBackToTextWhenUploadFails(t *testing.T) {
	ls := newLinkedInServer(t)
	ls.registerFails = true
	creds := LinkedInCredentials{AccessToken: "li-access", PersonURN: "urn:li:person:abc123"}

	id, err := ls.client().Post(context.Background(), creds, "Robotics win", ls.URL+"/image.png")
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:777", id)
	assert.False(t, ls.uploaded.Load())

	assert.Equal(t, "urn:li:person:abc123", ls.lastUGC["author"])
	share := shareContent(t, ls.lastUGC)
	assert.Equal(t, "NONE", share["shareMediaCategory"])
}

func TestLinkedIn_PostOversizedImageSharesTextOnly(t *testing.T) {
	ls := newLinkedInServer(t)
	creds := LinkedInCredentials{AccessToken: "li-access", PersonURN: "urn:li:person:abc123"}

	id, err := ls.client().Post(context.Background(), creds, "Robotics win", ls.URL+"/huge.png")
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:777", id)
	assert.False(t, ls.uploaded.Load(), "a cut-off image must not be uploaded")
	assert.Equal(t, "NONE", shareContent(t, ls.lastUGC)["shareMediaCategory"])
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	_, err = readLimited(strings.NewReader("123456"), 5)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestSend_OversizedResponseIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		padding := strings.Repeat("a", maxResponseBytes)
		writeJSON(w, http.StatusOK, `{"id":"17890","padding":"`+padding+`"}`)
	}))
	defer srv.Close()

	ig := NewInstagramClient(srv.URL, srv.Client())
	_, err := ig.Post(context.Background(), InstagramCredentials{AccessToken: "t", AccountID: "1"}, "c", "https://x/y.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestLinkedIn_PostRequiresAuthor(t *testing.T) {
	ls := newLinkedInServer(t)
	_, err := ls.client().Post(context.Background(), LinkedInCredentials{AccessToken: "li-access"}, "x", "")
	assert.Equal(t, models.CodeConfigurationMissing, models.ErrorCode(err))
}

func TestTwitter_Simulated(t *testing.T) {
	id, err := TwitterClient{}.Post(context.Background(), TwitterCredentials{}, "hello", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "simulated-"))
}
