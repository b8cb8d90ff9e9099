package social

import (
	"context"

	"schooldesk/internal/models"

	"github.com/google/uuid"
)

// TwitterClient has no upstream integration; posts always succeed with a
// synthetic id so the platform can be selected end to end.
type TwitterClient struct{}

func (TwitterClient) Platform() models.Platform { return models.PlatformTwitter }

func (TwitterClient) Post(_ context.Context, _ Credentials, _, _ string) (string, error) {
	return "simulated-" + uuid.NewString(), nil
}
