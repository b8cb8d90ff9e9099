package server

import (
	"schooldesk/internal/models"
	"schooldesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateSubmission handles POST /api/submissions
func (s *Server) CreateSubmission(c *fiber.Ctx) error {
	var req service.CreateSubmissionInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	sub, err := s.submissionService.CreateSubmission(c.UserContext(), currentUser(c), req)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// ListSubmissions handles GET /api/submissions?status=&school_id=&assignee_id=
func (s *Server) ListSubmissions(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	subs, total, err := s.submissionService.ListSubmissions(c.UserContext(), currentUser(c), service.ListSubmissionsInput{
		SchoolID:   uint(c.QueryInt("school_id", 0)),
		Status:     models.SubmissionStatus(c.Query("status")),
		AssigneeID: uint(c.QueryInt("assignee_id", 0)),
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"items":  subs,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// GetSubmission handles GET /api/submissions/:id
func (s *Server) GetSubmission(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	sub, err := s.submissionService.GetSubmission(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(sub)
}

// AssignSubmission handles POST /api/submissions/:id/assign
func (s *Server) AssignSubmission(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		WriterID uint `json:"writer_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.WriterID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("writer_id is required"))
	}

	sub, err := s.submissionService.AssignSubmission(c.UserContext(), currentUser(c), id, req.WriterID)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(sub)
}

// CorrectSubmissionStatus handles POST /api/submissions/:id/status
func (s *Server) CorrectSubmissionStatus(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	sub, err := s.submissionService.CorrectSubmissionStatus(c.UserContext(), currentUser(c), id, models.SubmissionStatus(req.Status))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(sub)
}

// GenerateDraft handles POST /api/submissions/:id/draft
func (s *Server) GenerateDraft(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	blog, err := s.blogService.GenerateDraft(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(blog)
}
