package server

import "github.com/gofiber/fiber/v2"

// GetFeatureFlags returns configured feature flags and their state for a school
// (?school_id=), defaulting to the flags' global evaluation.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	schoolID := uint(c.QueryInt("school_id", 0))

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(schoolID),
	})
}
