package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"schooldesk/internal/cache"
	"schooldesk/internal/models"
	"schooldesk/internal/observability"
	"schooldesk/internal/repository"

	"github.com/google/uuid"
)

// RefreshOutcome describes what a credential check did.
type RefreshOutcome string

const (
	OutcomeNotConfigured RefreshOutcome = "not_configured"
	OutcomeFresh         RefreshOutcome = "fresh"
	OutcomeRefreshed     RefreshOutcome = "refreshed"
	OutcomeNeedsReauth   RefreshOutcome = "needs_reauth"
	OutcomeValid         RefreshOutcome = "valid"
	OutcomeFailed        RefreshOutcome = "failed"
)

const oauthStateTTL = 10 * time.Minute

// StoreConfig carries the environment-level settings of the credential store.
type StoreConfig struct {
	InstagramAccessToken string
	InstagramAccountID   string
	// LinkedInRefreshWindow is how close to expiry a LinkedIn token is refreshed.
	LinkedInRefreshWindow time.Duration
}

// PlatformStatus is the admin view of one platform's credential.
type PlatformStatus struct {
	Platform    models.Platform `json:"platform"`
	Configured  bool            `json:"configured"`
	Source      string          `json:"source,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	NeedsReauth bool            `json:"needs_reauth"`
	PageID      string          `json:"page_id,omitempty"`
	AuthorURN   string          `json:"author_urn,omitempty"`
}

// CredentialStore resolves per-platform credentials and keeps the stored ones current.
type CredentialStore struct {
	tokens   repository.SocialTokenRepository
	facebook *FacebookClient
	linkedin *LinkedInClient
	cfg      StoreConfig
	now      func() time.Time

	statesMu sync.Mutex
	states   map[string]time.Time
}

// NewCredentialStore wires the token repository to the platform clients.
func NewCredentialStore(tokens repository.SocialTokenRepository, facebook *FacebookClient, linkedin *LinkedInClient, cfg StoreConfig) *CredentialStore {
	if cfg.LinkedInRefreshWindow <= 0 {
		cfg.LinkedInRefreshWindow = 7 * 24 * time.Hour
	}
	return &CredentialStore{
		tokens:   tokens,
		facebook: facebook,
		linkedin: linkedin,
		cfg:      cfg,
		now:      time.Now,
		states:   make(map[string]time.Time),
	}
}

// Resolve returns usable credentials for platform. Facebook tokens are exchanged
// for a page token on every read; an expired LinkedIn token is refreshed inline.
func (s *CredentialStore) Resolve(ctx context.Context, platform models.Platform) (Credentials, error) {
	switch platform {
	case models.PlatformInstagram:
		if s.cfg.InstagramAccessToken == "" || s.cfg.InstagramAccountID == "" {
			return nil, models.NewConfigurationMissingError("Instagram credentials (INSTAGRAM_ACCESS_TOKEN, INSTAGRAM_ACCOUNT_ID)")
		}
		return InstagramCredentials{AccessToken: s.cfg.InstagramAccessToken, AccountID: s.cfg.InstagramAccountID}, nil
	case models.PlatformTwitter:
		return TwitterCredentials{}, nil
	case models.PlatformFacebook:
		return s.resolveFacebook(ctx)
	case models.PlatformLinkedIn:
		return s.resolveLinkedIn(ctx)
	}
	return nil, models.NewValidationError(fmt.Sprintf("unknown platform %q", platform))
}

func (s *CredentialStore) resolveFacebook(ctx context.Context) (Credentials, error) {
	tok, err := s.tokens.Get(ctx, models.PlatformFacebook)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.AccessToken == "" || tok.PageID == "" {
		return nil, models.NewConfigurationMissingError("Facebook credentials")
	}

	pageToken, err := s.facebook.ExchangePageToken(ctx, tok.AccessToken, tok.PageID)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "facebook page token exchange failed, using stored token",
			slog.String("page_id", tok.PageID),
			slog.String("error", err.Error()),
		)
		return facebookFromToken(tok), nil
	}
	if pageToken != tok.AccessToken {
		tok.AccessToken = pageToken
		tok.ExpiresAt = nil
		if err := s.tokens.Upsert(ctx, tok); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to persist exchanged facebook page token",
				slog.String("error", err.Error()),
			)
		}
		cache.Invalidate(ctx, cache.SocialStatusKey)
	}
	return facebookFromToken(tok), nil
}

func (s *CredentialStore) resolveLinkedIn(ctx context.Context) (Credentials, error) {
	tok, err := s.tokens.Get(ctx, models.PlatformLinkedIn)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.AccessToken == "" || tok.PersonURN == "" {
		return nil, models.NewConfigurationMissingError("LinkedIn credentials")
	}
	if tok.ExpiresAt != nil && !s.now().Before(*tok.ExpiresAt) {
		if tok.RefreshToken == "" {
			return nil, models.NewConfigurationMissingError("LinkedIn re-authorization (token expired)")
		}
		refreshed, err := s.refreshLinkedInToken(ctx, tok)
		if err != nil {
			return nil, models.NewUpstreamError("linkedin token refresh failed", err)
		}
		tok = refreshed
	}
	return linkedInFromToken(tok), nil
}

func (s *CredentialStore) refreshLinkedInToken(ctx context.Context, tok *models.SocialToken) (*models.SocialToken, error) {
	fresh, err := s.linkedin.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		return nil, err
	}
	updated := *tok
	updated.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		updated.RefreshToken = fresh.RefreshToken
	}
	if !fresh.Expiry.IsZero() {
		expiry := fresh.Expiry.UTC()
		updated.ExpiresAt = &expiry
	} else {
		updated.ExpiresAt = nil
	}
	if err := s.tokens.Upsert(ctx, &updated); err != nil {
		return nil, err
	}
	cache.Invalidate(ctx, cache.SocialStatusKey)
	return &updated, nil
}

// RefreshLinkedIn refreshes the stored LinkedIn token when it expires within the
// refresh window. A token without a refresh token is left alone and reported.
func (s *CredentialStore) RefreshLinkedIn(ctx context.Context) (RefreshOutcome, error) {
	tok, err := s.tokens.Get(ctx, models.PlatformLinkedIn)
	if err != nil {
		return OutcomeFailed, err
	}
	if tok == nil {
		return OutcomeNotConfigured, nil
	}
	if !tok.ExpiresWithin(s.now(), s.cfg.LinkedInRefreshWindow) {
		return OutcomeFresh, nil
	}
	if tok.RefreshToken == "" {
		observability.GlobalLogger.WarnContext(ctx, "linkedin token expiring without refresh token, re-authorization required",
			slog.Time("expires_at", *tok.ExpiresAt),
		)
		return OutcomeNeedsReauth, nil
	}
	if _, err := s.refreshLinkedInToken(ctx, tok); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeRefreshed, nil
}

// ValidateFacebook checks the stored Facebook token against the Graph API.
func (s *CredentialStore) ValidateFacebook(ctx context.Context) (RefreshOutcome, error) {
	tok, err := s.tokens.Get(ctx, models.PlatformFacebook)
	if err != nil {
		return OutcomeFailed, err
	}
	if tok == nil {
		return OutcomeNotConfigured, nil
	}
	ok, err := s.facebook.Validate(ctx, tok.AccessToken)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		observability.GlobalLogger.WarnContext(ctx, "facebook token rejected, re-authorization required",
			slog.String("page_id", tok.PageID),
		)
		return OutcomeNeedsReauth, nil
	}
	return OutcomeValid, nil
}

// SaveFacebook stores a page id and token, exchanging a user token for the page
// token when possible.
func (s *CredentialStore) SaveFacebook(ctx context.Context, pageID, accessToken string) (*models.SocialToken, error) {
	pageID = strings.TrimSpace(pageID)
	accessToken = strings.TrimSpace(accessToken)
	if pageID == "" || accessToken == "" {
		return nil, models.NewValidationError("page_id and access_token are required")
	}
	if pageToken, err := s.facebook.ExchangePageToken(ctx, accessToken, pageID); err == nil {
		accessToken = pageToken
	} else {
		observability.GlobalLogger.WarnContext(ctx, "facebook page token exchange failed, storing token as given",
			slog.String("page_id", pageID),
			slog.String("error", err.Error()),
		)
	}

	tok := &models.SocialToken{
		Platform:    models.PlatformFacebook,
		AccessToken: accessToken,
		PageID:      pageID,
		UpdatedAt:   s.now(),
	}
	if err := s.tokens.Upsert(ctx, tok); err != nil {
		return nil, err
	}
	cache.Invalidate(ctx, cache.SocialStatusKey)
	return tok, nil
}

// LinkedInInput is a manually supplied LinkedIn credential.
type LinkedInInput struct {
	AccessToken     string
	RefreshToken    string
	ExpiresAt       *time.Time
	PersonURN       string
	OrganizationURN string
}

// SaveLinkedIn stores a LinkedIn token. Both the access token and person URN are required.
func (s *CredentialStore) SaveLinkedIn(ctx context.Context, in LinkedInInput) (*models.SocialToken, error) {
	in.AccessToken = strings.TrimSpace(in.AccessToken)
	in.PersonURN = strings.TrimSpace(in.PersonURN)
	if in.AccessToken == "" || in.PersonURN == "" {
		return nil, models.NewValidationError("access_token and person_urn are required")
	}
	if !strings.HasPrefix(in.PersonURN, "urn:li:person:") {
		return nil, models.NewValidationError("person_urn must look like urn:li:person:<id>")
	}
	tok := &models.SocialToken{
		Platform:        models.PlatformLinkedIn,
		AccessToken:     in.AccessToken,
		RefreshToken:    strings.TrimSpace(in.RefreshToken),
		ExpiresAt:       in.ExpiresAt,
		PersonURN:       in.PersonURN,
		OrganizationURN: strings.TrimSpace(in.OrganizationURN),
		UpdatedAt:       s.now(),
	}
	if err := s.tokens.Upsert(ctx, tok); err != nil {
		return nil, err
	}
	cache.Invalidate(ctx, cache.SocialStatusKey)
	return tok, nil
}

// LinkedInAuthURL starts the OAuth flow and returns the consent URL.
func (s *CredentialStore) LinkedInAuthURL(ctx context.Context) (string, error) {
	if !s.linkedin.OAuthConfigured() {
		return "", models.NewConfigurationMissingError("LinkedIn OAuth (LINKEDIN_CLIENT_ID, LINKEDIN_CLIENT_SECRET, LINKEDIN_REDIRECT_URL)")
	}
	state := uuid.NewString()
	s.rememberState(ctx, state)
	return s.linkedin.AuthCodeURL(state), nil
}

// CompleteLinkedInAuth finishes the OAuth flow: it checks state, exchanges code,
// looks up the member URN and stores the result. An existing organization URN is kept.
func (s *CredentialStore) CompleteLinkedInAuth(ctx context.Context, state, code string) (*models.SocialToken, error) {
	if code == "" {
		return nil, models.NewValidationError("code is required")
	}
	if !s.consumeState(ctx, state) {
		return nil, models.NewValidationError("invalid or expired OAuth state")
	}

	tok, err := s.linkedin.Exchange(ctx, code)
	if err != nil {
		return nil, models.NewUpstreamError("linkedin authorization failed", err)
	}
	personURN, err := s.linkedin.PersonURN(ctx, tok.AccessToken)
	if err != nil {
		return nil, models.NewUpstreamError("linkedin profile lookup failed", err)
	}

	in := LinkedInInput{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		PersonURN:    personURN,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		in.ExpiresAt = &expiry
	}
	if existing, err := s.tokens.Get(ctx, models.PlatformLinkedIn); err == nil && existing != nil {
		in.OrganizationURN = existing.OrganizationURN
	}
	return s.SaveLinkedIn(ctx, in)
}

func (s *CredentialStore) rememberState(ctx context.Context, state string) {
	if rdb := cache.GetClient(); rdb != nil {
		if err := rdb.Set(ctx, oauthStateKey(state), "1", oauthStateTTL).Err(); err == nil {
			return
		}
	}
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	now := s.now()
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(oauthStateTTL)
}

func (s *CredentialStore) consumeState(ctx context.Context, state string) bool {
	if state == "" {
		return false
	}
	if rdb := cache.GetClient(); rdb != nil {
		if n, err := rdb.Del(ctx, oauthStateKey(state)).Result(); err == nil && n == 1 {
			return true
		}
	}
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	exp, ok := s.states[state]
	delete(s.states, state)
	return ok && s.now().Before(exp)
}

func oauthStateKey(state string) string {
	return "social:oauth_state:" + state
}

// Disconnect removes the stored credential of platform.
func (s *CredentialStore) Disconnect(ctx context.Context, platform models.Platform) error {
	switch platform {
	case models.PlatformFacebook, models.PlatformLinkedIn:
	case models.PlatformInstagram:
		return models.NewValidationError("instagram credentials come from the environment and cannot be disconnected")
	case models.PlatformTwitter:
		return models.NewValidationError("twitter has no stored credentials")
	default:
		return models.NewValidationError(fmt.Sprintf("unknown platform %q", platform))
	}
	if err := s.tokens.Delete(ctx, platform); err != nil {
		return err
	}
	cache.Invalidate(ctx, cache.SocialStatusKey)
	return nil
}

// Status reports the credential state of every platform.
func (s *CredentialStore) Status(ctx context.Context) ([]PlatformStatus, error) {
	var out []PlatformStatus
	err := cache.Aside(ctx, cache.SocialStatusKey, &out, cache.SocialStatusTTL, func() error {
		var err error
		out, err = s.loadStatus(ctx)
		return err
	})
	return out, err
}

func (s *CredentialStore) loadStatus(ctx context.Context) ([]PlatformStatus, error) {
	tokens, err := s.tokens.List(ctx)
	if err != nil {
		return nil, err
	}
	stored := make(map[models.Platform]*models.SocialToken, len(tokens))
	for i := range tokens {
		stored[tokens[i].Platform] = &tokens[i]
	}

	now := s.now()
	out := make([]PlatformStatus, 0, len(models.AllPlatforms))
	for _, p := range models.AllPlatforms {
		st := PlatformStatus{Platform: p}
		switch p {
		case models.PlatformInstagram:
			st.Configured = s.cfg.InstagramAccessToken != "" && s.cfg.InstagramAccountID != ""
			st.Source = "environment"
		case models.PlatformTwitter:
			st.Configured = true
			st.Source = "simulated"
		default:
			tok := stored[p]
			if tok == nil {
				break
			}
			st.Source = "database"
			st.ExpiresAt = tok.ExpiresAt
			st.PageID = tok.PageID
			if p == models.PlatformLinkedIn {
				st.Configured = tok.AccessToken != "" && tok.PersonURN != ""
				st.AuthorURN = linkedInFromToken(tok).AuthorURN()
				st.NeedsReauth = tok.RefreshToken == "" && tok.ExpiresWithin(now, s.cfg.LinkedInRefreshWindow)
			} else {
				st.Configured = tok.AccessToken != "" && tok.PageID != ""
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// ErrUnknownPlatform is returned by ParsePlatform.
var ErrUnknownPlatform = errors.New("unknown platform")

// ParsePlatform normalises a platform name.
func ParsePlatform(name string) (models.Platform, error) {
	p := models.Platform(strings.ToLower(strings.TrimSpace(name)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return p, nil
}
