package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}
		body, _ := json.Marshal(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		})
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateBlogDraft(t *testing.T) {
	content := "```json\n{\"title\":\"Robotics Team Wins Regional Final\",\"metaTitle\":\"Robotics win\",\"seoKeywords\":[\"robotics\"],\"content\":\"<p>We won.</p>\"}\n```"
	srv := completionServer(t, http.StatusOK, content)
	d := NewOpenAIDrafter(Config{APIKey: "sk-test", BaseURL: srv.URL + "/"})

	draft, err := d.GenerateBlogDraft(context.Background(), DraftRequest{Title: "Robotics", Description: "we won", Category: "achievement"})
	require.NoError(t, err)
	assert.Equal(t, "Robotics Team Wins Regional Final", draft.Title)
	assert.Equal(t, "robotics-team-wins-regional-final", draft.Slug)
	assert.Equal(t, 1, draft.ReadingTime)
	assert.Equal(t, []string{"robotics"}, draft.SEOKeywords)
}

func TestGenerateBlogDraft_UpstreamError(t *testing.T) {
	srv := completionServer(t, http.StatusBadRequest, "")
	d := NewOpenAIDrafter(Config{APIKey: "sk-test", BaseURL: srv.URL + "/"})

	_, err := d.GenerateBlogDraft(context.Background(), DraftRequest{Title: "x"})
	assert.Error(t, err)
}

func TestGenerateSocialPost(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"caption":"Huge congrats to our robotics team!","hashtags":["#robotics","#stem"]}`)
	d := NewOpenAIDrafter(Config{APIKey: "sk-test", BaseURL: srv.URL + "/"})

	out, err := d.GenerateSocialPost(context.Background(), "Robotics", "We won", "linkedin")
	require.NoError(t, err)
	assert.Equal(t, "Huge congrats to our robotics team!", out.Caption)
	assert.Equal(t, []string{"#robotics", "#stem"}, out.Hashtags)
}

func TestNotConfigured(t *testing.T) {
	d := NewOpenAIDrafter(Config{})
	_, err := d.GenerateBlogDraft(context.Background(), DraftRequest{Title: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = d.GenerateSocialPost(context.Background(), "t", "s", "facebook")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseDraft_RejectsIncomplete(t *testing.T) {
	_, err := ParseDraft(`{"title":""}`)
	assert.Error(t, err)
	_, err = ParseDraft(`not json`)
	assert.Error(t, err)
}

func TestSlugifyAndReadingTime(t *testing.T) {
	assert.Equal(t, "spring-fair-2026-tickets", Slugify("  Spring Fair 2026: Tickets! "))
	assert.Equal(t, 1, EstimateReadingTime(""))
	assert.Equal(t, 2, EstimateReadingTime("<p>"+strings.Repeat("word ", 201)+"</p>"))
}
