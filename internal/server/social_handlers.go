package server

import (
	"schooldesk/internal/models"
	"schooldesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetSocialStatus handles GET /api/admin/social/status
func (s *Server) GetSocialStatus(c *fiber.Ctx) error {
	status, err := s.socialService.CredentialStatus(c.UserContext(), currentUser(c))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{"platforms": status})
}

// SaveSocialCredentials handles PUT /api/admin/social/:platform
func (s *Server) SaveSocialCredentials(c *fiber.Ctx) error {
	var req service.SaveCredentialsInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	tok, err := s.socialService.SaveCredentials(c.UserContext(), currentUser(c), c.Params("platform"), req)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(tok)
}

// DisconnectSocialPlatform handles DELETE /api/admin/social/:platform
func (s *Server) DisconnectSocialPlatform(c *fiber.Ctx) error {
	if err := s.socialService.DisconnectPlatform(c.UserContext(), currentUser(c), c.Params("platform")); err != nil {
		return respondAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetLinkedInAuthURL handles GET /api/admin/social/linkedin/auth-url
func (s *Server) GetLinkedInAuthURL(c *fiber.Ctx) error {
	url, err := s.socialService.LinkedInAuthURL(c.UserContext(), currentUser(c))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// LinkedInCallback handles GET /api/admin/social/linkedin/callback?state=&code=
func (s *Server) LinkedInCallback(c *fiber.Ctx) error {
	if oauthErr := c.Query("error"); oauthErr != "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("LinkedIn authorization was declined: "+oauthErr))
	}
	tok, err := s.socialService.CompleteLinkedInAuth(c.UserContext(), c.Query("state"), c.Query("code"))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"connected":  true,
		"platform":   tok.Platform,
		"expires_at": tok.ExpiresAt,
	})
}

// RefreshSocialTokens handles POST /api/admin/social/refresh
func (s *Server) RefreshSocialTokens(c *fiber.Ctx) error {
	report, err := s.socialService.RefreshNow(c.UserContext(), currentUser(c))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(report)
}
