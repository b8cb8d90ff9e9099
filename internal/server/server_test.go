package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"schooldesk/internal/config"
	"schooldesk/internal/middleware"
	"schooldesk/internal/models"
	"schooldesk/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testJWTSecret = "test-secret-key-12345678901234567890123456789012"

// fakeWordPress records posts created through the REST API.
type fakeWordPress struct {
	mu     sync.Mutex
	posts  []map[string]interface{}
	failed bool
	srv    *httptest.Server
}

func newFakeWordPress(t *testing.T) *fakeWordPress {
	t.Helper()
	wp := &fakeWordPress{}
	wp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wp.mu.Lock()
		defer wp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/wp-json/wp/v2/tags":
			_, _ = io.WriteString(w, `[{"id":5,"name":"news","slug":"news"}]`)
		case r.Method == http.MethodPost && r.URL.Path == "/wp-json/wp/v2/tags":
			_, _ = io.WriteString(w, `{"id":6,"name":"new tag","slug":"new-tag"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/wp-json/wp/v2/posts":
			if wp.failed {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, `{"code":"internal","message":"boom"}`)
				return
			}
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			wp.posts = append(wp.posts, body)
			id := 500 + len(wp.posts)
			_, _ = fmt.Fprintf(w, `{"id":%d,"link":"https://school.example/?p=%d"}`, id, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(wp.srv.Close)
	return wp
}

func (wp *fakeWordPress) setFailing(failed bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.failed = failed
}

func (wp *fakeWordPress) count() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.posts)
}

type testEnv struct {
	t   *testing.T
	db  *gorm.DB
	app *fiber.App
	srv *Server
	wp  *fakeWordPress
}

// newTestEnv builds the full server over SQLite and a fake WordPress site.
func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	wp := newFakeWordPress(t)
	cfg := &config.Config{
		JWTSecret:              testJWTSecret,
		Port:                   "0",
		Env:                    "test",
		PublishCost:            99,
		PublishReward:          50,
		PublishFailurePolicy:   config.PublishFailureRetain,
		CoinPackageSize:        99,
		LedgerMaxRetries:       5,
		WordPressURL:           wp.srv.URL,
		WordPressUsername:      "editor",
		WordPressAppPassword:   "app-pass",
		WordPressPostStatus:    "publish",
		PaymentKeySecret:       "payment-secret",
		FacebookGraphURL:       "http://127.0.0.1:1",
		LinkedInAuthURL:        "http://127.0.0.1:1/oauth/v2",
		LinkedInAPIURL:         "http://127.0.0.1:1",
		SocialDefaultPlatforms: "twitter",
		FeatureFlags:           "ai_captions=off",
		TokenRefreshAt:         "03:00",
	}
	for _, m := range mutate {
		m(cfg)
	}

	db := testutil.NewSQLiteDB(t)
	srv, err := NewServerWithDeps(cfg, db, nil)
	require.NoError(t, err)

	app := fiber.New()
	srv.SetupRoutes(app)
	return &testEnv{t: t, db: db, app: app, srv: srv, wp: wp}
}

func (e *testEnv) token(user *models.User) string {
	e.t.Helper()
	tok, err := middleware.IssueToken(testJWTSecret, user, time.Now())
	require.NoError(e.t, err)
	return tok
}

// do sends a JSON request as user (nil for anonymous) and decodes the response into out.
func (e *testEnv) do(user *models.User, method, path string, body interface{}, out interface{}) int {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(user))
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(e.t, err)
		if len(raw) > 0 {
			require.NoError(e.t, json.Unmarshal(raw, out), string(raw))
		}
	}
	return resp.StatusCode
}
