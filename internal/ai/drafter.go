// Package ai generates blog drafts and social captions with a chat-completion model.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"schooldesk/internal/observability"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("ai drafting is not configured")

// DraftRequest is the submission content a draft is written from.
type DraftRequest struct {
	Title       string
	Description string
	Category    string
}

// Draft is a generated blog post.
type Draft struct {
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	MetaTitle       string   `json:"metaTitle"`
	MetaDescription string   `json:"metaDescription"`
	SEOKeywords     []string `json:"seoKeywords"`
	Content         string   `json:"content"`
	ReadingTime     int      `json:"readingTime"`
}

// SocialCopy is a generated caption for one platform.
type SocialCopy struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

// Drafter produces drafts and captions.
type Drafter interface {
	GenerateBlogDraft(ctx context.Context, req DraftRequest) (*Draft, error)
	GenerateSocialPost(ctx context.Context, title, summary, platform string) (*SocialCopy, error)
}

// Config configures the OpenAI drafter.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIDrafter implements Drafter with chat completions that answer in JSON.
type OpenAIDrafter struct {
	client     openai.Client
	model      string
	configured bool
	log        *observability.UpstreamLogger
}

// NewOpenAIDrafter creates a drafter. Without an API key every call returns ErrNotConfigured.
func NewOpenAIDrafter(cfg Config) *OpenAIDrafter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIDrafter{
		client:     openai.NewClient(opts...),
		model:      model,
		configured: strings.TrimSpace(cfg.APIKey) != "",
		log:        observability.NewUpstreamLogger("openai"),
	}
}

const draftSystemPrompt = `You write news posts for a school website.
Reply with a single JSON object with keys: title, slug, metaTitle, metaDescription,
seoKeywords (array of strings), content (HTML using <p>, <h2>, <ul>), readingTime (minutes, integer).
Keep metaTitle under 60 characters and metaDescription under 160 characters.`

const socialSystemPrompt = `You write social media posts for a school.
Reply with a single JSON object with keys: caption (string) and hashtags (array of strings starting with #).
Match the tone and length to the platform.`

// GenerateBlogDraft asks the model for a complete draft.
func (d *OpenAIDrafter) GenerateBlogDraft(ctx context.Context, req DraftRequest) (*Draft, error) {
	prompt := fmt.Sprintf("Category: %s\nTitle: %s\nDetails from the school:\n%s", req.Category, req.Title, req.Description)
	raw, err := d.complete(ctx, "generate_blog_draft", draftSystemPrompt, prompt, 0.7)
	if err != nil {
		return nil, err
	}
	draft, err := ParseDraft(raw)
	if err != nil {
		return nil, err
	}
	if draft.Slug == "" {
		draft.Slug = Slugify(draft.Title)
	}
	if draft.ReadingTime <= 0 {
		draft.ReadingTime = EstimateReadingTime(draft.Content)
	}
	return draft, nil
}

// GenerateSocialPost asks the model for a caption tailored to platform.
func (d *OpenAIDrafter) GenerateSocialPost(ctx context.Context, title, summary, platform string) (*SocialCopy, error) {
	prompt := fmt.Sprintf("Platform: %s\nPost title: %s\nSummary: %s", platform, title, summary)
	raw, err := d.complete(ctx, "generate_social_post", socialSystemPrompt, prompt, 0.8)
	if err != nil {
		return nil, err
	}
	var out SocialCopy
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("decode social copy: %w", err)
	}
	if strings.TrimSpace(out.Caption) == "" {
		return nil, errors.New("model returned an empty caption")
	}
	return &out, nil
}

func (d *OpenAIDrafter) complete(ctx context.Context, op, system, user string, temperature float64) (string, error) {
	if !d.configured {
		return "", ErrNotConfigured
	}
	defer observability.TrackUpstream("openai", op)()
	ctx, span := observability.GetTraceLayer().TraceUpstreamCall(ctx, "openai", op)
	defer span.End()

	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(d.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		observability.FailSpan(span, err)
		d.log.LogCall(ctx, op, err, nil)
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		err := errors.New("model returned no content")
		d.log.LogCall(ctx, op, err, nil)
		return "", err
	}
	d.log.LogCall(ctx, op, nil, map[string]interface{}{"model": d.model})
	return resp.Choices[0].Message.Content, nil
}

// ParseDraft decodes a draft, tolerating a fenced code block around the JSON.
func ParseDraft(raw string) (*Draft, error) {
	var draft Draft
	if err := json.Unmarshal([]byte(stripFences(raw)), &draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Content) == "" {
		return nil, errors.New("draft is missing title or content")
	}
	return &draft, nil
}

var fenceRe = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*(.*?)\\s*```\\s*$")

func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// EstimateReadingTime assumes 200 words per minute, minimum one minute.
func EstimateReadingTime(html string) int {
	words := len(strings.Fields(tagRe.ReplaceAllString(html, " ")))
	minutes := (words + 199) / 200
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
