package server

import (
	"strings"

	"schooldesk/internal/models"
	"schooldesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

const maxFeaturedImageBytes = 8 << 20

// CreateManualDraft handles POST /api/blogs
func (s *Server) CreateManualDraft(c *fiber.Ctx) error {
	var req service.ManualDraftInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	blog, err := s.blogService.CreateManualDraft(c.UserContext(), currentUser(c), req)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(blog)
}

// ListBlogs handles GET /api/blogs?status=&school_id=&submission_id=
func (s *Server) ListBlogs(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	blogs, total, err := s.blogService.ListBlogs(c.UserContext(), currentUser(c), service.ListBlogsInput{
		Status:           models.BlogStatus(c.Query("status")),
		AssignedSchoolID: uint(c.QueryInt("school_id", 0)),
		SubmissionID:     uint(c.QueryInt("submission_id", 0)),
		Limit:            page.Limit,
		Offset:           page.Offset,
	})
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"items":  blogs,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// GetBlog handles GET /api/blogs/:id
func (s *Server) GetBlog(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	blog, err := s.blogService.GetBlog(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(blog)
}

// UpdateBlog handles PUT /api/blogs/:id
func (s *Server) UpdateBlog(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.UpdateBlogInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	blog, err := s.blogService.UpdateBlog(c.UserContext(), currentUser(c), id, req)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(blog)
}

// MarkDraftReady handles POST /api/blogs/:id/ready
func (s *Server) MarkDraftReady(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	blog, err := s.blogService.MarkDraftReady(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(blog)
}

// AdvanceToReview handles POST /api/blogs/:id/review with an optional school_id.
func (s *Server) AdvanceToReview(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		SchoolID *uint `json:"school_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	blog, err := s.blogService.AdvanceToReview(c.UserContext(), currentUser(c), id, req.SchoolID)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(blog)
}

// ApproveBlog handles POST /api/blogs/:id/approve
func (s *Server) ApproveBlog(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	blog, err := s.blogService.Approve(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(blog)
}

// RejectBlog handles POST /api/blogs/:id/reject
func (s *Server) RejectBlog(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	blog, err := s.blogService.Reject(c.UserContext(), currentUser(c), id, req.Reason)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(blog)
}

// PublishBlog handles POST /api/blogs/:id/publish
func (s *Server) PublishBlog(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.PublishInput
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	result, err := s.blogService.Publish(c.UserContext(), currentUser(c), id, req)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(result)
}

// ShareBlog handles POST /api/blogs/:id/share
func (s *Server) ShareBlog(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.ShareInput
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	outcomes, err := s.socialService.ShareBlog(c.UserContext(), currentUser(c), id, req)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{"results": outcomes})
}

// GetBlogSocialPosts handles GET /api/blogs/:id/social-posts
func (s *Server) GetBlogSocialPosts(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	posts, err := s.socialService.ListBlogPosts(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(posts)
}

// UploadFeaturedImage handles POST /api/blogs/:id/featured-image (multipart field "image").
func (s *Server) UploadFeaturedImage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	file, err := c.FormFile("image")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("No file uploaded"))
	}
	if file.Size > maxFeaturedImageBytes {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Image is too large"))
	}
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("File must be an image"))
	}

	src, err := file.Open()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}
	defer func() { _ = src.Close() }()

	blog, err := s.blogService.UploadFeaturedImage(c.UserContext(), currentUser(c), id, file.Filename, contentType, src)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(blog)
}
